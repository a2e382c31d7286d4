package storage

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

const postgresDriverName = "pgx"

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint failure on
// either backend
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	// SQLite drivers only expose the message text in a driver-specific type
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
