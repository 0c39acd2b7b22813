package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"capora-backend/internal/models"
)

type VariantRepo struct {
	pool *pgxpool.Pool
}

func NewVariantRepo(pool *pgxpool.Pool) *VariantRepo {
	return &VariantRepo{pool: pool}
}

// UpsertVariant writes the (content, platform) row, replacing any earlier one.
func (r *VariantRepo) UpsertVariant(ctx context.Context, v *models.VideoVariant) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.ValidationIssues == nil {
		v.ValidationIssues = []string{}
	}

	query := `INSERT INTO video_variants (id, content_id, platform, media_location, thumbnail_location,
			width, height, duration_seconds, size_bytes, format, status, failure_reason, validation_issues)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (content_id, platform) DO UPDATE SET
			media_location = EXCLUDED.media_location,
			thumbnail_location = EXCLUDED.thumbnail_location,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			duration_seconds = EXCLUDED.duration_seconds,
			size_bytes = EXCLUDED.size_bytes,
			format = EXCLUDED.format,
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			validation_issues = EXCLUDED.validation_issues,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		v.ID, v.ContentID, string(v.Platform), v.MediaLocation, v.ThumbnailLocation,
		v.Width, v.Height, v.DurationSeconds, v.SizeBytes, v.Format, string(v.Status),
		v.FailureReason, v.ValidationIssues,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	return missingParent(err)
}

func (r *VariantRepo) ListVariants(ctx context.Context, contentID uuid.UUID) ([]models.VideoVariant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content_id, platform, media_location, thumbnail_location, width, height,
			duration_seconds, size_bytes, format, status, failure_reason, validation_issues, created_at, updated_at
		FROM video_variants WHERE content_id = $1 ORDER BY platform`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := []models.VideoVariant{}
	for rows.Next() {
		var v models.VideoVariant
		var platform, status string
		if err := rows.Scan(
			&v.ID, &v.ContentID, &platform, &v.MediaLocation, &v.ThumbnailLocation, &v.Width, &v.Height,
			&v.DurationSeconds, &v.SizeBytes, &v.Format, &status, &v.FailureReason, &v.ValidationIssues,
			&v.CreatedAt, &v.UpdatedAt,
		); err != nil {
			return nil, err
		}
		v.Platform = models.Platform(platform)
		v.Status = models.VariantStatus(status)
		variants = append(variants, v)
	}
	return variants, rows.Err()
}
