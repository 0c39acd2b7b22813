package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"capora-backend/internal/models"
)

type PublishResultRepo struct {
	pool *pgxpool.Pool
}

func NewPublishResultRepo(pool *pgxpool.Pool) *PublishResultRepo {
	return &PublishResultRepo{pool: pool}
}

// InsertPublishResult appends an attempt row. Rows are never updated.
// An unknown content item yields pgx.ErrNoRows.
func (r *PublishResultRepo) InsertPublishResult(ctx context.Context, pr *models.PublishResult) error {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}

	query := `INSERT INTO publish_results (id, content_id, platform, outcome, platform_post_id, post_url, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING attempted_at`

	err := r.pool.QueryRow(ctx, query,
		pr.ID, pr.ContentID, string(pr.Platform), string(pr.Outcome),
		pr.PlatformPostID, pr.PostURL, pr.FailureReason,
	).Scan(&pr.AttemptedAt)
	return missingParent(err)
}

func (r *PublishResultRepo) ListPublishResults(ctx context.Context, contentID uuid.UUID) ([]models.PublishResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content_id, platform, outcome, platform_post_id, post_url, failure_reason, attempted_at
		FROM publish_results WHERE content_id = $1 ORDER BY attempted_at, id`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.PublishResult{}
	for rows.Next() {
		var pr models.PublishResult
		var platform, outcome string
		if err := rows.Scan(
			&pr.ID, &pr.ContentID, &platform, &outcome,
			&pr.PlatformPostID, &pr.PostURL, &pr.FailureReason, &pr.AttemptedAt,
		); err != nil {
			return nil, err
		}
		pr.Platform = models.Platform(platform)
		pr.Outcome = models.Outcome(outcome)
		results = append(results, pr)
	}
	return results, rows.Err()
}
