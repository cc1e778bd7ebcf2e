package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// RetryPolicy bounds the attempts made against one provider.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns three retries starting at 500ms and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(retries))
}

// IsPermanent reports whether err should stop retries against the same provider.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnsupportedCategory) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// FetchWithRetry calls p.Fetch until it succeeds, returns a permanent error,
// exhausts the policy or ctx is done. An empty payload counts as a failure. It
// returns the number of attempts made.
func FetchWithRetry(ctx context.Context, p Provider, symbol string, category model.Category, asOf time.Time, policy RetryPolicy) (model.RawMetricSet, int, error) {
	attempts := 0
	op := func() (model.RawMetricSet, error) {
		attempts++
		raw, err := p.Fetch(ctx, symbol, category, asOf)
		if err != nil {
			if IsPermanent(err) {
				return raw, backoff.Permanent(err)
			}
			return raw, err
		}
		if raw.Len() == 0 {
			return raw, errEmptyPayload
		}
		return raw, nil
	}
	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{
			"provider": p.ID(),
			"symbol":   symbol,
			"category": category,
			"attempt":  attempts,
			"wait":     wait,
		}).WithError(err).Debug("Retrying provider fetch")
	}

	raw, err := backoff.RetryNotifyWithData(op, policy.backOff(ctx), notify)
	return raw, attempts, err
}

var errEmptyPayload = errors.New("provider returned an empty payload")
