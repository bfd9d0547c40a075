// Package retry is the exponential-backoff combinator the replication task
// state machine uses for every gateway call. It is grounded on
// gostratum-storagex's ClientManager, which builds a
// backoff.NewExponentialBackOff() with jitter to drive the AWS SDK's own
// retryer; here the same library drives a bare attempt/classify loop
// instead of an SDK retryer hook, since the attempts span both source and
// destination gateway calls rather than a single SDK client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Attempt is one unit of work the runner retries on failure.
type Attempt func(ctx context.Context) error

// Classify reports whether err should be retried.
type Classify func(err error) bool

// OnRetry is invoked after a retryable failure, before the next attempt.
// It is never invoked after a terminal (non-retryable) failure, after the
// final attempt allowed by MaxRetries, or once Timeout has expired.
type OnRetry func(err error)

// Config parameterizes the backoff curve and retry budget.
type Config struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Factor     float64
	MaxRetries uint64
	Timeout    time.Duration
}

// DefaultConfig matches gostratum-storagex's client defaults: a 2x
// multiplier with 10% jitter and no elapsed-time ceiling beyond the
// explicit Timeout field below.
func DefaultConfig() Config {
	return Config{
		MinBackoff: 200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		Factor:     2.0,
		MaxRetries: 8,
		Timeout:    5 * time.Minute,
	}
}

// terminalError wraps a non-retryable failure so backoff.Retry stops
// immediately instead of continuing to the next attempt.
type terminalError struct{ err error }

func (t *terminalError) Error() string { return t.err.Error() }
func (t *terminalError) Unwrap() error { return t.err }

// Run executes attempt with exponential backoff until it succeeds, a
// classify(err) call reports non-retryable, MaxRetries attempts have been
// made, or Timeout elapses, whichever comes first. describe is used only
// for the error returned when the budget is exhausted.
func Run(ctx context.Context, cfg Config, describe string, attempt Attempt, classify Classify, onRetry OnRetry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.MinBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.Factor
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = cfg.Timeout

	withRetries := backoff.WithMaxRetries(b, cfg.MaxRetries)

	var ctxCancel context.CancelFunc
	runCtx := ctx
	if cfg.Timeout > 0 {
		runCtx, ctxCancel = context.WithTimeout(ctx, cfg.Timeout)
		defer ctxCancel()
	}
	withCtx := backoff.WithContext(withRetries, runCtx)

	var attemptCount int
	op := func() error {
		attemptCount++
		err := attempt(runCtx)
		if err == nil {
			return nil
		}
		if !classify(err) {
			return backoff.Permanent(&terminalError{err: err})
		}
		if onRetry != nil && uint64(attemptCount) <= cfg.MaxRetries && runCtx.Err() == nil {
			onRetry(err)
		}
		return err
	}

	err := backoff.Retry(op, withCtx)
	if err == nil {
		return nil
	}

	var term *terminalError
	if errors.As(err, &term) {
		return term.err
	}
	return fmt.Errorf("%s: %w", describe, err)
}
