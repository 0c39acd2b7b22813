package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// foreign_key_violation
const pgForeignKeyViolation = "23503"

// PostgresStore bundles the content, variant and publish-result tables
// behind one value so services can depend on a single store.
type PostgresStore struct {
	*ContentRepo
	*VariantRepo
	*PublishResultRepo
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		ContentRepo:       NewContentRepo(pool),
		VariantRepo:       NewVariantRepo(pool),
		PublishResultRepo: NewPublishResultRepo(pool),
	}
}

// missingParent turns a child-row insert that referenced an absent content
// item into pgx.ErrNoRows, matching what the memory store returns.
func missingParent(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return pgx.ErrNoRows
	}
	return err
}
