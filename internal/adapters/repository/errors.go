package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okian/ratingmeter/internal/domain/model"
)

// PostgreSQL SQLSTATE codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("store closed")

// dbError maps driver errors onto domain kinds. Anything unrecognised is a
// persistence failure.
func dbError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if strings.Contains(pgErr.ConstraintName, "username") {
				return fmt.Errorf("%s: %w", op, model.ErrUsernameTaken)
			}
			return fmt.Errorf("%s: %w", op, model.ErrDuplicateRating)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, model.ErrNotFound)
		}
	}
	return fmt.Errorf("%w: %s: %w", model.ErrPersistence, op, err)
}
