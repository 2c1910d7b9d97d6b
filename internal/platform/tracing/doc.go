// Package tracing configures OpenTelemetry tracing for the worker and turns
// dispatch events into spans, one span per job attempt.
package tracing
