package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// RateLimited wraps a provider with a token bucket so bursts of cache misses do
// not exceed the upstream's quota.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p. A non-positive rate returns p unchanged.
func NewRateLimited(p Provider, perSecond float64, burst int) Provider {
	if perSecond <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Fetch waits for a token, then delegates.
func (r *RateLimited) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.RawMetricSet{}, fmt.Errorf("%s rate limit wait: %w", r.ID(), err)
	}
	return r.Provider.Fetch(ctx, symbol, category, asOf)
}
