// Package resilience provides fault-tolerance patterns:
// retry with exponential backoff, circuit breaker, and bulkhead.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int
}

// PermanentError marks an error that must not be retried (e.g. a 4xx reply).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so RetryWithBackoff returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation. A permanent error stops the loop and is
// returned still wrapped, so a surrounding breaker does not count it.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var permanent *PermanentError
		if errors.As(lastErr, &permanent) {
			return lastErr
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			wait := backoff
			if half := int64(backoff / 2); half > 0 {
				wait += time.Duration(rand.Int63n(half))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// caller mistakes (4xx) say nothing about the remote's health
			var permanent *PermanentError
			return err == nil || errors.As(err, &permanent) || errors.Is(err, context.Canceled)
		},
	})
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// Guard bundles the three patterns for one remote dependency.
type Guard struct {
	cb       *gobreaker.CircuitBreaker
	bulkhead *Bulkhead
	cfg      Config
}

// NewGuard creates a Guard. cb may be shared between guards.
func NewGuard(cb *gobreaker.CircuitBreaker, cfg Config) *Guard {
	return &Guard{cb: cb, bulkhead: NewBulkhead(cfg.MaxConcurrency), cfg: cfg}
}

// Do runs fn once inside the bulkhead and breaker. Use it for calls that are
// not safe to repeat.
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	if err := g.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer g.bulkhead.Release()

	_, err := g.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return unwrapPermanent(err)
}

// DoWithRetry runs fn inside the bulkhead and breaker, retrying transient
// failures. Use it for idempotent calls.
func (g *Guard) DoWithRetry(ctx context.Context, fn func() error) error {
	return g.Do(ctx, func() error {
		return RetryWithBackoff(ctx, g.cfg, fn)
	})
}

func unwrapPermanent(err error) error {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
