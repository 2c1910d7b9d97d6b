// Package job orchestrates background work: durable enqueue, lease-based
// dequeue per queue family, handler dispatch, and retry with backoff.
//
// The relational store is the only coordination point between worker
// processes. A job is owned by a worker only while it holds an unexpired
// lease recorded in the job's own row; every state change after a lease is
// guarded by that lease, so a worker that lost its lease can never overwrite
// the work of the worker that took it over.
package job
