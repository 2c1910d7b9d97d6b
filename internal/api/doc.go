// Package api serves the orchestrator's operations surface over HTTP:
// health, gate and queue monitoring, job lookup and enqueue.
package api
