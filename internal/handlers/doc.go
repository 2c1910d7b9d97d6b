// Package handlers provides the job handlers bound to the type catalog at
// startup. The business logic behind each job type lives with its owning
// service; these handlers record the dispatch and acknowledge the job.
package handlers
