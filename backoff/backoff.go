// Package backoff provides pluggable retry delay strategies for job
// execution. The base strategies are stateless, deterministic, and safe
// for concurrent use; wrap one in Jitter to spread retries.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hoistq/hoist"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	// Compare in float space: for large attempts the product overflows
	// int64 and a converted Duration would wrap negative, dodging the cap.
	f := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && f >= float64(e.Max) {
		return e.Max
	}
	if f >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter wraps a strategy and multiplies each delay by a uniform factor
// in [0.5, 1.5). This prevents thundering herd when many retries happen
// simultaneously while keeping delays near the base curve.
type Jitter struct {
	Strategy Strategy

	mu  sync.Mutex
	rng *rand.Rand
}

// WithJitter wraps s with jitter drawn from the shared process-wide
// random source.
func WithJitter(s Strategy) *Jitter {
	return &Jitter{Strategy: s}
}

// WithJitterSeed wraps s with jitter drawn from a seeded source, making
// the sequence of delays reproducible.
func WithJitterSeed(s Strategy, seed uint64) *Jitter {
	return &Jitter{Strategy: s, rng: rand.New(rand.NewPCG(seed, seed))}
}

// Delay returns the wrapped delay scaled by a factor in [0.5, 1.5).
func (j *Jitter) Delay(attempt int) time.Duration {
	base := j.Strategy.Delay(attempt)

	var f float64
	if j.rng != nil {
		j.mu.Lock()
		f = j.rng.Float64()
		j.mu.Unlock()
	} else {
		f = rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(float64(base) * (0.5 + f))
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// jittered exponential with 2s base and 15m max.
func DefaultStrategy() Strategy {
	return WithJitter(NewExponential(2*time.Second, 15*time.Minute))
}

// FromConfig builds a strategy from engine configuration. An empty
// strategy name selects exponential.
func FromConfig(cfg hoist.BackoffConfig) (Strategy, error) {
	base := cfg.Base
	if base <= 0 {
		base = 2 * time.Second
	}

	var s Strategy
	switch cfg.Strategy {
	case "", "exponential":
		s = NewExponential(base, cfg.Max)
	case "linear":
		s = NewLinear(base, cfg.Max)
	case "constant":
		s = NewConstant(base)
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", cfg.Strategy)
	}

	if cfg.Jitter {
		s = WithJitter(s)
	}
	return s, nil
}
