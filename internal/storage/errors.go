package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrKonflikt is returned when a write would break a uniqueness rule, such as
// a second active task for the same vedtaksperiode.
var ErrKonflikt = errors.New("storage: conflicting row exists")

// Postgres SQLSTATE codes the storage layer reacts to.
const (
	kodeUniqueViolation      = "23505"
	kodeSerializationFailure = "40001"
	kodeDeadlockDetected     = "40P01"
)

// pgKode returns the SQLSTATE of err, or "" when err did not come from Postgres.
func pgKode(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	return pgErr.Code
}

func isUniqueViolation(err error) bool {
	return pgKode(err) == kodeUniqueViolation
}

// isRetriable reports whether err is a transient conflict that a fresh
// transaction may not hit again.
func isRetriable(err error) bool {
	switch pgKode(err) {
	case kodeSerializationFailure, kodeDeadlockDetected:
		return true
	default:
		return false
	}
}
