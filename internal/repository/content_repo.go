package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"capora-backend/internal/models"
)

type ContentRepo struct {
	pool *pgxpool.Pool
}

func NewContentRepo(pool *pgxpool.Pool) *ContentRepo {
	return &ContentRepo{pool: pool}
}

const contentColumns = `id, user_id, title, description, caption, hashtags, platforms, source_location,
	status, publishing, error_message, created_at, updated_at`

func scanContent(row pgx.Row) (*models.ContentItem, error) {
	c := &models.ContentItem{}
	var platforms []string
	var status string
	err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.Description, &c.Caption, &c.Hashtags, &platforms,
		&c.SourceLocation, &status, &c.Publishing, &c.ErrorMessage, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = models.ContentStatus(status)
	c.Platforms = make([]models.Platform, len(platforms))
	for i, p := range platforms {
		c.Platforms[i] = models.Platform(p)
	}
	if c.Hashtags == nil {
		c.Hashtags = []string{}
	}
	return c, nil
}

func platformStrings(ps []models.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func (r *ContentRepo) CreateContent(ctx context.Context, c *models.ContentItem) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Hashtags == nil {
		c.Hashtags = []string{}
	}

	query := `INSERT INTO content_items (id, user_id, title, description, caption, hashtags, platforms, source_location, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		c.ID, c.UserID, c.Title, c.Description, c.Caption, c.Hashtags,
		platformStrings(c.Platforms), c.SourceLocation, string(c.Status),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetContent returns pgx.ErrNoRows when the item does not exist.
func (r *ContentRepo) GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+contentColumns+" FROM content_items WHERE id = $1", id)
	return scanContent(row)
}

func (r *ContentRepo) ListContent(ctx context.Context, userID uuid.UUID, status *models.ContentStatus, limit, offset int) ([]*models.ContentItem, int, error) {
	args := []interface{}{userID}
	where := "WHERE user_id = $1"
	if status != nil {
		args = append(args, string(*status))
		where += " AND status = $2"
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM content_items "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM content_items %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		contentColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// CompareAndSetStatus moves id from one status to another in a single
// statement. It reports false when the row was not in the expected status.
func (r *ContentRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ContentStatus, errMsg *string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE content_items SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		string(to), errMsg, id, string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// BeginPublish raises the publishing flag if the item is publishable and idle.
func (r *ContentRepo) BeginPublish(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE content_items SET publishing = TRUE, updated_at = NOW()
		WHERE id = $1 AND publishing = FALSE AND status IN ('ready', 'partially_published')`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// EndPublish lowers the publishing flag and writes the aggregate status.
func (r *ContentRepo) EndPublish(ctx context.Context, id uuid.UUID, status models.ContentStatus) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE content_items SET publishing = FALSE, status = $1, updated_at = NOW() WHERE id = $2",
		string(status), id,
	)
	return err
}

// ReleasePublish lowers the publishing flag without touching status.
func (r *ContentRepo) ReleasePublish(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE content_items SET publishing = FALSE, updated_at = NOW() WHERE id = $1", id)
	return err
}

func (r *ContentRepo) UpdateCaption(ctx context.Context, id uuid.UUID, caption string, hashtags []string) error {
	if hashtags == nil {
		hashtags = []string{}
	}
	tag, err := r.pool.Exec(ctx,
		"UPDATE content_items SET caption = $1, hashtags = $2, updated_at = NOW() WHERE id = $3",
		caption, hashtags, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
