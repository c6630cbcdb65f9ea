// Package resilience provides fault tolerance patterns
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Restart policy defaults, tuned for supervising a speech stream that
// may drop every few seconds on a bad network.
const (
	DefaultBaseDelay    = 300 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultMaxFailures  = 5
	DefaultJitterFactor = 0.2 // 20% jitter
)

// RestartPolicy holds backoff settings for a supervised loop.
type RestartPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MaxFailures  int // consecutive failures before giving up
	JitterFactor float64
}

// DefaultRestartPolicy returns standard restart settings.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		MaxFailures:  DefaultMaxFailures,
		JitterFactor: DefaultJitterFactor,
	}
}

// Restarter tracks consecutive failures of a supervised loop and hands
// out backoff delays. Not safe for concurrent use; the supervising
// goroutine owns it.
type Restarter struct {
	policy   RestartPolicy
	failures int
}

// NewRestarter returns a Restarter for the given policy.
func NewRestarter(policy RestartPolicy) *Restarter {
	return &Restarter{policy: policy.withDefaults()}
}

// Failure records one failed attempt. It returns the delay to wait
// before the next attempt, or ok=false once the consecutive failure
// budget is exhausted and the loop should give up.
func (r *Restarter) Failure() (delay time.Duration, ok bool) {
	attempt := r.failures
	r.failures++
	if r.failures >= r.policy.MaxFailures {
		return 0, false
	}
	delay = backoffDelay(r.policy, attempt)
	slog.Debug("restart scheduled", "failures", r.failures, "max", r.policy.MaxFailures, "delay", delay)
	return delay, true
}

// Reset clears the failure count. Call it once the supervised loop
// proves healthy again.
func (r *Restarter) Reset() {
	r.failures = 0
}

// Failures reports the current consecutive failure count.
func (r *Restarter) Failures() int {
	return r.failures
}

// Wait sleeps for delay, returning early if ctx is cancelled.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(p RestartPolicy, attempt int) time.Duration {
	delay := p.BaseDelay << min(attempt, 6) // Cap shift to prevent overflow
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	// Add jitter: delay * (1 ± jitterFactor/2)
	jitter := float64(delay) * p.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxFailures <= 0 {
		p.MaxFailures = DefaultMaxFailures
	}
	if p.JitterFactor <= 0 {
		p.JitterFactor = DefaultJitterFactor
	}
	return p
}
