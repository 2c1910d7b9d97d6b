// Package testdb provides database helpers for store tests: locating and
// opening the PostgreSQL test database, skipping when none is configured,
// and creating throwaway SQLite files.
package testdb
