// Package store defines the persistence primitives shared by the job store
// implementations: the DBTX abstraction over *sql.DB and *sql.Tx, the
// transaction helper, and the common store errors.
package store
