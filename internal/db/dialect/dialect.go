// Package dialect provides SQL fragment helpers for SQLite/PostgreSQL portability.
package dialect

import "fmt"

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres returns true if the driver is PostgreSQL (pgx).
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Placeholder returns the bind placeholder for the nth parameter (1-based).
//
//	SQLite:   ?
//	Postgres: $n
func Placeholder(driver string, n int) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Like returns the SQL LIKE operator appropriate for the driver.
//
//	SQLite:  LIKE (case-insensitive for ASCII by default)
//	Postgres: ILIKE (case-insensitive)
func Like(driver string) string {
	if IsPostgres(driver) {
		return "ILIKE"
	}
	return "LIKE"
}

// Now returns the SQL expression for the current timestamp.
//
//	SQLite:   datetime('now')
//	Postgres: NOW()
func Now(driver string) string {
	if IsPostgres(driver) {
		return "NOW()"
	}
	return "datetime('now')"
}

// JSONExtract returns the SQL fragment to extract a top-level JSON value as text.
//
//	SQLite:   json_extract(col, '$.path')
//	Postgres: col::jsonb->>'path'
func JSONExtract(driver, col, path string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s::jsonb->>'%s'", col, path)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", col, path)
}

// JSONContains returns the SQL fragment testing that col's JSON document
// contains the bound JSON document (subset match). Postgres uses native jsonb
// containment; SQLite has no containment operator, so callers filter rows in
// application code when the driver is SQLite and this returns "1=1".
func JSONContains(driver, col, placeholder string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("%s::jsonb @> %s::jsonb", col, placeholder)
	}
	return "1=1"
}

// TextArray returns the column type for a list of strings.
//
//	SQLite:   TEXT (JSON-encoded)
//	Postgres: TEXT[]
func TextArray(driver string) string {
	if IsPostgres(driver) {
		return "TEXT[]"
	}
	return "TEXT"
}

// JSONType returns the column type for JSON documents.
//
//	SQLite:   TEXT
//	Postgres: JSONB
func JSONType(driver string) string {
	if IsPostgres(driver) {
		return "JSONB"
	}
	return "TEXT"
}

// UpsertConflict returns the ON CONFLICT clause opener for the given key
// columns; both engines share the modern syntax.
func UpsertConflict(cols string) string {
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET", cols)
}

// BoolToInt converts a boolean to an integer for SQL storage.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
