// Package events carries dispatch lifecycle events from the orchestrator to
// observers (logging, tracing, alerting) without coupling the orchestrator to
// any of them. Every dispatch produces a started event and a finished event.
package events
