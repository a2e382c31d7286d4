package storage

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the SQL flavour spoken to the database
type Dialect string

const (
	// DialectSQLite is the embedded default (modernc or mattn driver, see build tags)
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres uses the pgx stdlib driver
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", name)
}

// driverName is the database/sql driver registered for the dialect
func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return postgresDriverName
	}
	return DriverName
}

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain literal question marks.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate appends a row lock on dialects that have one. SQLite serializes
// writers on its single connection instead.
func (d Dialect) forUpdate(query string) string {
	if d == DialectPostgres {
		return query + " FOR UPDATE"
	}
	return query
}

// ddl expands the column type placeholders used by the migrations
func (d Dialect) ddl(schema string) string {
	var r *strings.Replacer
	if d == DialectPostgres {
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{money}}", "NUMERIC(12,2)",
			"{{ts}}", "TIMESTAMPTZ",
			"{{ref}}", "BIGINT",
		)
	} else {
		r = strings.NewReplacer(
			"{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{money}}", "TEXT",
			"{{ts}}", "TIMESTAMP",
			"{{ref}}", "INTEGER",
		)
	}
	return r.Replace(schema)
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// validSavepoint guards savepoint names, which cannot be bound as parameters
func validSavepoint(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
