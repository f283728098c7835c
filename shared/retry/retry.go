// Package retry is the one bounded-retry wrapper used around every external
// call in the pipeline. Call sites supply a policy and a classifier; nothing
// else in the codebase hand-rolls its own retry loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Policy bounds how often and how long an operation may be retried.
type Policy struct {
	// MaxAttempts is the total attempt budget including the first call.
	// Zero means unbounded attempts (the context is then the only limit).
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy suits short network calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// Do invokes op, retrying with exponential backoff while retryable returns
// true for the failure. A nil retryable treats every error as retryable.
// Non-retryable errors abort immediately and are returned as-is. The context
// cancels any wait between attempts; once the attempt budget is spent the
// last error is returned.
func Do(ctx context.Context, name string, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		bo.Multiplier = p.Multiplier
	}
	bo.MaxElapsedTime = 0 // bounded by attempts, not wall clock

	var b backoff.BackOff = backoff.WithContext(bo, ctx)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).Warnf("%s failed (attempt %d/%d), retrying in %s",
			name, attempt, p.MaxAttempts, wait.Round(time.Millisecond))
	}

	return backoff.RetryNotify(operation, b, notify)
}
