// Package fetch provides provider-specific clients for retrieving market data
// from upstream sources, plus the retry and rate-limit wrappers around them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/marketdata-hub/internal/model"
)

//go:generate mockgen -package=coordinator -destination=../coordinator/mock_provider_test.go -source=provider.go Provider

// Provider is the contract every upstream adapter implements.
type Provider interface {
	// ID is stable for the life of the process and keys the provider's score
	ID() string

	// Fetch retrieves one category of data for a symbol as of a date
	Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error)
}

// Sentinel errors. Both are permanent: retrying the same provider will not help.
var (
	ErrNotFound            = errors.New("symbol not found")
	ErrUnsupportedCategory = errors.New("category not supported by provider")
)

// FetchFunc is the signature of Provider.Fetch.
type FetchFunc func(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error)

type funcProvider struct {
	id string
	fn FetchFunc
}

// ProviderFunc adapts a plain function into a Provider.
func ProviderFunc(id string, fn FetchFunc) Provider {
	return funcProvider{id: id, fn: fn}
}

func (p funcProvider) ID() string { return p.id }

func (p funcProvider) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	return p.fn(ctx, symbol, category, asOf)
}

// StaticProvider serves fixed fields per symbol and category. It backs offline
// mode and tests.
type StaticProvider struct {
	id string

	mu   sync.RWMutex
	data map[string]map[model.Category]map[string]model.Field
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider(id string) *StaticProvider {
	return &StaticProvider{id: id, data: make(map[string]map[model.Category]map[string]model.Field)}
}

// Set stores the fields returned for symbol and category.
func (p *StaticProvider) Set(symbol string, category model.Category, fields map[string]model.Field) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data[symbol] == nil {
		p.data[symbol] = make(map[model.Category]map[string]model.Field)
	}
	p.data[symbol][category] = fields
}

// ID implements Provider.
func (p *StaticProvider) ID() string { return p.id }

// Fetch implements Provider. The date is ignored.
func (p *StaticProvider) Fetch(ctx context.Context, symbol string, category model.Category, asOf time.Time) (model.RawMetricSet, error) {
	if err := ctx.Err(); err != nil {
		return model.RawMetricSet{}, err
	}
	p.mu.RLock()
	fields, ok := p.data[symbol][category]
	p.mu.RUnlock()
	if !ok {
		return model.RawMetricSet{}, fmt.Errorf("%s %s/%s: %w", p.id, symbol, category, ErrNotFound)
	}
	return model.NewRawMetricSet(symbol, category, asOf, p.id, fields), nil
}
