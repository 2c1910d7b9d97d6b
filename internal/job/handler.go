package job

import (
	"context"

	"github.com/google/uuid"
)

// Handler executes one job type. Returning a non-nil error (ideally a
// *HandlerError) reports failure; nil reports success.
//
// Delivery is at-least-once: a handler can run again for the same job if a
// worker dies after the handler finished but before success was recorded,
// so handlers must be idempotent. The context carries a deadline at the
// lease expiry; handlers that honour it finish before their lease can be
// taken by another worker.
type Handler interface {
	Execute(ctx context.Context, jobID uuid.UUID, payload Payload) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, jobID uuid.UUID, payload Payload) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, jobID uuid.UUID, payload Payload) error {
	return f(ctx, jobID, payload)
}
