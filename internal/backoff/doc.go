// Package backoff computes retry delays for failed jobs.
// Delays grow exponentially with the attempt number and are perturbed by
// random jitter so that many jobs failing together do not retry in lockstep.
package backoff
