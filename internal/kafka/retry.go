package kafka

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 5, Base: 200 * time.Millisecond, Max: 5 * time.Second}

// Run calls fn until it succeeds, the attempts are spent or ctx is done. It
// returns the last error of fn, or ctx.Err() when cancelled while waiting.
func (p RetryPolicy) Run(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		attempt++
		return fn(attempt)
	}, b)
}

// backOff waits Base after the first failure and doubles up to Max, without
// jitter and without an elapsed-time limit.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
