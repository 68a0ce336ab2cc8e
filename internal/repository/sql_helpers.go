package repository

import (
	"errors"
	"fmt"

	potluck_errors "potluck-chat/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapError folds driver errors into the shared taxonomy.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return potluck_errors.ErrNotFound
	case isUniqueViolation(err):
		return potluck_errors.ErrAlreadyExists
	case errors.Is(err, potluck_errors.ErrNotFound),
		errors.Is(err, potluck_errors.ErrAlreadyExists),
		errors.Is(err, potluck_errors.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", potluck_errors.ErrStoreUnavailable, err)
	}
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 30
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
