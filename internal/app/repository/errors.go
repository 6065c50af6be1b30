package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrLinkNotFound signals that the requested link does not exist.
	ErrLinkNotFound = errors.New("link not found")
	// ErrDuplicateToken signals that another link already owns the token.
	ErrDuplicateToken = errors.New("duplicate link token")
	// ErrInvalidExtension signals a new expiry that is not after the current one.
	ErrInvalidExtension = errors.New("new expiry must be after the current expiry")
	// ErrStorageUnavailable wraps every failure of the underlying database.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	pgUniqueViolation = "23505"

	// SQLSTATE classes for rejected values (22) and constraint violations (23). The
	// store answered, so these are not outages.
	pgClassDataException       = "22"
	pgClassIntegrityConstraint = "23"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// storageError tags driver failures so callers never mistake them for a denial.
// Cancellation and values the database rejected are passed through untagged: the
// store did not fail.
func storageError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || isRejectedValue(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func isRejectedValue(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	class := pgErr.Code[:2]
	return class == pgClassDataException || class == pgClassIntegrityConstraint
}
