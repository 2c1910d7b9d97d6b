// Package sqlite implements the durable job store on SQLite through
// mattn/go-sqlite3, for single-host deployments and tests.
//
// Connections are opened with _txlock=immediate so every transaction takes
// the database write lock at BEGIN; concurrent leasers, in this process or
// another, therefore serialize instead of racing on the same rows. Times
// are stored as INTEGER Unix nanoseconds so comparisons are exact.
package sqlite
