package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Default policy parameters.
const (
	DefaultBase      = 30 * time.Second
	DefaultMinJitter = 0.75
	DefaultMaxJitter = 1.25
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before re-running a job that has
	// completed attempt executions (1-indexed).
	Delay(attempt int) time.Duration
}

// Policy is exponential backoff with multiplicative jitter:
//
//	Delay(attempt) = 2^attempt * Base * U(MinJitter, MaxJitter)
//
// rounded to whole seconds. Policy is stateless and safe for concurrent use.
type Policy struct {
	Base      time.Duration
	MinJitter float64
	MaxJitter float64

	// Rand returns a float in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

// New creates a policy with the given base delay and the default jitter band.
func New(base time.Duration) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	return &Policy{
		Base:      base,
		MinJitter: DefaultMinJitter,
		MaxJitter: DefaultMaxJitter,
	}
}

// Default returns the policy used by the orchestrator: 30s base, jitter in [0.75, 1.25].
func Default() *Policy {
	return New(DefaultBase)
}

// Delay returns the jittered delay for attempt. Attempts below 1 are treated
// as 1; the result is never shorter than one second.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	r := rand.Float64 //nolint:gosec // jitter does not need crypto rand
	if p.Rand != nil {
		r = p.Rand
	}
	jitter := p.MinJitter + r()*(p.MaxJitter-p.MinJitter)

	seconds := math.Pow(2, float64(attempt)) * p.Base.Seconds() * jitter
	d := time.Duration(math.Round(seconds)) * time.Second
	if d < time.Second {
		return time.Second
	}
	return d
}

// Bounds returns the smallest and largest delay Delay can produce for attempt.
func (p *Policy) Bounds(attempt int) (time.Duration, time.Duration) {
	if attempt < 1 {
		attempt = 1
	}
	base := math.Pow(2, float64(attempt)) * p.Base.Seconds()
	lo := time.Duration(math.Round(base*p.MinJitter)) * time.Second
	hi := time.Duration(math.Round(base*p.MaxJitter)) * time.Second
	return lo, hi
}
