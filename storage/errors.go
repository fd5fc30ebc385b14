package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// P0002	no_data_found
// 42501	insufficient_privilege
// 23503	foreign_key_violation
// 23505	unique_violation
// 40001	serialization_failure

const (
	AUTH_CODE          = "42501"
	RESOURCE_CODE      = "P0002"
	INCONSISTENCY_CODE = "23503"
	UNIQUE_CODE        = "23505"
	SERIALIZATION_CODE = "40001"
)

// FindCodeInPSQLException returns the SQLSTATE of a postgresql error, empty for other errors
func FindCodeInPSQLException(sourceError error) string {
	var pgErr *pgconn.PgError
	var result string
	if errors.As(sourceError, &pgErr) {
		result = pgErr.Code
	}

	return result
}

// IsRetryable returns true for errors that a new attempt may solve
func IsRetryable(err error) bool {
	return FindCodeInPSQLException(err) == SERIALIZATION_CODE
}
