// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, and carries scoped loggers through context.Context so
// that job-level attributes (job_id, job_type, queue) follow a dispatch through the store.
package logger
