package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/devgraph/internal/errors"
)

// RetryPolicy bounds the attempts of one stage or task
type RetryPolicy struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy returns 5 attempts starting at 2s, capped at one minute
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         5,
		InitialInterval:     2 * time.Second,
		MaxInterval:         time.Minute,
		Multiplier:          backoff.DefaultMultiplier,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		exp.Multiplier = p.Multiplier
	}
	if p.RandomizationFactor > 0 {
		exp.RandomizationFactor = p.RandomizationFactor
	}
	// Attempts bound the retries, not elapsed time
	exp.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, the context is
// done or the attempts are exhausted. It returns the number of attempts made and
// the last error.
func (p RetryPolicy) Do(ctx context.Context, logger logrus.FieldLogger, op func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.WithError(err).WithFields(logrus.Fields{
			"attempt":  attempt,
			"retry_in": wait.String(),
		}).Warn("attempt failed, retrying")
	})
	return attempt, err
}
