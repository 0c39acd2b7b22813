package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMissingParent(t *testing.T) {
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "publish_results_content_id_fkey"}
	assert.ErrorIs(t, missingParent(fk), pgx.ErrNoRows)
	assert.ErrorIs(t, missingParent(fmt.Errorf("insert: %w", fk)), pgx.ErrNoRows)

	unique := &pgconn.PgError{Code: "23505"}
	assert.Same(t, unique, missingParent(unique))

	other := errors.New("conn closed")
	assert.Equal(t, other, missingParent(other))
	assert.NoError(t, missingParent(nil))
}
