// Package resilience wraps calls to external collaborators (the embedding
// provider and the LLM classifier) with the timeout, retry, and circuit
// breaker policy the concurrency model requires of every upstream call.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"adaptivememory/internal/apperr"
)

// Upstream wraps one external collaborator with a circuit breaker and
// bounded exponential-backoff retries. Zero value is not usable; use New.
type Upstream struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// Config controls the breaker/retry policy for one upstream.
type Config struct {
	Name                 string
	Threshold            uint32 // consecutive failures before opening
	OpenTimeout          time.Duration
	CallTimeout          time.Duration
	RetryBaseInterval    time.Duration
	RetryMaxInterval     time.Duration
	RetryMaxElapsedTime  time.Duration
	MaxAttempts          int
}

// DefaultConfig returns the policy named in the concurrency model: 30s call
// timeout, base 1s/factor 2/max 3 attempts/max 10s backoff, breaker opens
// after 5 consecutive failures and half-opens after 60s.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		Threshold:           5,
		OpenTimeout:         60 * time.Second,
		CallTimeout:         30 * time.Second,
		RetryBaseInterval:   time.Second,
		RetryMaxInterval:    10 * time.Second,
		RetryMaxElapsedTime: 25 * time.Second,
		MaxAttempts:         3,
	}
}

func New(cfg Config) *Upstream {
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Threshold
		},
	}
	return &Upstream{
		name:    cfg.Name,
		breaker: gobreaker.NewCircuitBreaker(st),
		timeout: cfg.CallTimeout,
	}
}

// Call runs fn under the breaker, a request timeout, and bounded retries.
// It returns apperr.ServiceDegraded if the breaker is open or all retries
// are exhausted, never a raw transport error.
func (u *Upstream) Call(ctx context.Context, retry Config, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry.RetryBaseInterval
	bo.Multiplier = 2
	bo.MaxInterval = retry.RetryMaxInterval
	bo.MaxElapsedTime = retry.RetryMaxElapsedTime
	bctx := backoff.WithContext(bo, ctx)

	attempts := 0
	op := func() error {
		attempts++
		cctx, cancel := context.WithTimeout(ctx, u.timeout)
		defer cancel()
		_, err := u.breaker.Execute(func() (any, error) {
			return nil, fn(cctx)
		})
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return backoff.Permanent(apperr.ServiceDegraded(u.name + " circuit open"))
		}
		if err != nil && attempts >= retry.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, bctx); err != nil {
		if apperr.Of(err) == apperr.KindServiceDegraded {
			return err
		}
		return apperr.Wrap(apperr.KindServiceDegraded, u.name+" unavailable", err)
	}
	return nil
}

// State reports the breaker's current state for health/diagnostics.
func (u *Upstream) State() string {
	return u.breaker.State().String()
}
