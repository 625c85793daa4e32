// Package backoff paces retries of slot workers.
//
// A Policy is plain configuration; each retry loop builds its own exponential
// schedule from it with NewBackOff.
//
// Import Path: readmodel.dev/projector/internal/pkg/backoff
package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

const (
	defaultBase       = 50 * time.Millisecond
	defaultMax        = 30 * time.Second
	defaultMultiplier = 3.0
	defaultJitter     = 0.5
)

// Policy describes a capped exponential backoff.
type Policy struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0, 1). Zero yields a fixed
	// schedule.
	Jitter float64
	// MaxAttempts bounds Retry. Zero means unbounded.
	MaxAttempts int
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{Base: defaultBase, Max: defaultMax, Multiplier: defaultMultiplier, Jitter: defaultJitter}
}

// NewBackOff returns a fresh schedule for p. The first delay is Base.
func (p Policy) NewBackOff() *cbackoff.ExponentialBackOff {
	base := p.Base
	if base <= 0 {
		base = defaultBase
	}
	capDur := p.Max
	if capDur <= 0 {
		capDur = defaultMax
	}
	if capDur < base {
		base = capDur
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	jitter := p.Jitter
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}

	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = capDur
	b.Multiplier = mult
	b.RandomizationFactor = jitter
	b.Reset()
	return b
}

// Sleep waits for d or until ctx is done, reporting whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Retry calls fn until it succeeds, ctx is done, or MaxAttempts is reached.
// It returns the last error from fn, or the context error when cancelled
// while waiting.
func (p Policy) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	opts := []cbackoff.RetryOption{
		cbackoff.WithBackOff(p.NewBackOff()),
		cbackoff.WithMaxElapsedTime(0),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, cbackoff.WithMaxTries(uint(p.MaxAttempts)))
	}
	_, err := cbackoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}
