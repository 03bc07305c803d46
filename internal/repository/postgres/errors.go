package postgres

import (
	"errors"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes this package reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsConflict reports whether err means the transaction lost a race and may
// succeed if run again from scratch. Duplicate keys are not conflicts: the
// row exists and a retry would hit it again.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeDeadlockDetected || pgErr.Code == codeSerializationFailure
	}
	if errors.Is(err, domainErrors.ErrOptimisticLockFailed) {
		return true
	}
	var e *domainErrors.Error
	return errors.As(err, &e) && e.Kind == domainErrors.KindConflict
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
