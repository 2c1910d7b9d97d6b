// Package postgres implements the durable job store on PostgreSQL through
// the pgx database/sql driver. Concurrent workers coordinate only through
// row locks: leasing selects candidates with FOR UPDATE SKIP LOCKED, and
// every later transition is guarded by the lease recorded in the row.
//
// The schema is managed by goose migrations embedded in the package.
package postgres
