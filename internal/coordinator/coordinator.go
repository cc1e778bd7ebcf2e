// Package coordinator resolves market data requests: it serves the cache, falls
// back across providers in reliability order, standardizes and validates what
// comes back, grades it and stores it with a calendar-aware TTL.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/marketdata-hub/internal/cache"
	"github.com/yourorg/marketdata-hub/internal/calendar"
	"github.com/yourorg/marketdata-hub/internal/fetch"
	"github.com/yourorg/marketdata-hub/internal/metrics"
	"github.com/yourorg/marketdata-hub/internal/model"
	hubotel "github.com/yourorg/marketdata-hub/internal/otel"
	"github.com/yourorg/marketdata-hub/internal/reliability"
	"github.com/yourorg/marketdata-hub/internal/standardize"
	"github.com/yourorg/marketdata-hub/internal/validation"
)

// ErrUnavailable is carried in Result.Err when no fresh or stale data exists.
var ErrUnavailable = errors.New("market data unavailable")

var (
	errNoProviders = errors.New("no providers registered")
	errClosed      = errors.New("coordinator closed")
)

// DomainStandardization labels issues raised while converting units.
const DomainStandardization = "standardization"

// Options configures a Coordinator.
type Options struct {
	// Enabled=false serves only what is cached
	Enabled bool

	// FetchTimeout bounds the whole provider fallback chain of one resolution
	FetchTimeout time.Duration

	// WorkerPoolSize bounds batch resolution and cross-validation
	WorkerPoolSize int

	Retry fetch.RetryPolicy

	BaseTTL             map[model.Category]time.Duration
	SensitiveTTL        map[model.Category]time.Duration
	SensitiveWindowDays int

	// ProviderPriority orders equally scored providers, lower first
	ProviderPriority map[string]int
}

// DefaultOptions returns the standard coordinator configuration.
func DefaultOptions() Options {
	return Options{
		Enabled:        true,
		FetchTimeout:   10 * time.Second,
		WorkerPoolSize: 4,
		Retry:          fetch.DefaultRetryPolicy(),
		BaseTTL: map[model.Category]time.Duration{
			model.CategoryQuote:     time.Minute,
			model.CategoryTechnical: 5 * time.Minute,
			model.CategoryVolume:    time.Minute,
			model.CategoryFinancial: 7 * 24 * time.Hour,
			model.CategoryValuation: 24 * time.Hour,
		},
		SensitiveTTL: map[model.Category]time.Duration{
			model.CategoryFinancial: time.Hour,
			model.CategoryValuation: time.Hour,
		},
		SensitiveWindowDays: calendar.DefaultWindowDays,
		ProviderPriority:    map[string]int{},
	}
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithCalendar replaces the default report calendar.
func WithCalendar(cal *calendar.Calendar) Option {
	return func(c *Coordinator) { c.calendar = cal }
}

// WithClock replaces the time source used for TTLs.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithValidator replaces the default validator.
func WithValidator(v *validation.Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// Request names one resolution.
type Request struct {
	Symbol   string
	AsOf     time.Time
	Category model.Category
}

// Result is the outcome of one resolution. Data problems never surface as Go
// errors: an unavailable result is a value with Unavailable set.
type Result struct {
	RequestID string                      `json:"request_id"`
	Symbol    string                      `json:"symbol"`
	AsOf      string                      `json:"as_of"`
	Category  model.Category              `json:"category"`
	Data      model.StandardizedMetricSet `json:"data"`

	Grade        model.Grade             `json:"grade,omitempty"`
	QualityScore float64                 `json:"quality_score"`
	Confidence   float64                 `json:"confidence"`
	Issues       []model.ValidationIssue `json:"issues,omitempty"`
	Provider     string                  `json:"provider,omitempty"`

	FromCache   bool   `json:"from_cache"`
	Stale       bool   `json:"stale"`
	Unavailable bool   `json:"unavailable"`
	Reason      string `json:"reason,omitempty"`

	// Err wraps ErrUnavailable for unavailable results
	Err error `json:"-"`
}

// Stats is a snapshot of cache and provider health.
type Stats struct {
	EntryCount      int                         `json:"entry_count"`
	HitRateWindowed float64                     `json:"hit_rate_windowed"`
	Hits            uint64                      `json:"hits"`
	Misses          uint64                      `json:"misses"`
	ProviderScores  []reliability.ProviderScore `json:"provider_scores"`
}

// Coordinator ties the cache, providers, tracker and validators together.
type Coordinator struct {
	opts      Options
	registry  *fetch.Registry
	tracker   *reliability.Tracker
	store     *cache.Store
	validator *validation.Validator
	calendar  *calendar.Calendar
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	flights singleflight.Group

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a Coordinator. Every provider in the registry is registered with
// the tracker under its configured tier.
func New(registry *fetch.Registry, tracker *reliability.Tracker, store *cache.Store, opts Options, options ...Option) *Coordinator {
	if opts.WorkerPoolSize <= 0 {
		opts.WorkerPoolSize = 1
	}
	c := &Coordinator{
		opts:      opts,
		registry:  registry,
		tracker:   tracker,
		store:     store,
		validator: validation.New(validation.DefaultValidationOptions()),
		calendar:  calendar.New(),
		tracer:    hubotel.Tracer(),
		now:       time.Now,
	}
	for _, o := range options {
		o(c)
	}
	for _, reg := range registry.Registrations() {
		tracker.Register(reg.Provider.ID(), reg.Tier)
	}
	c.metrics.SetProviderScores(tracker.Scores())
	return c
}

// Close stops new fetches and waits for running ones to finish.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	logrus.Info("Coordinator closed")
	return nil
}

// Resolve returns data for one symbol, date and category.
func (c *Coordinator) Resolve(ctx context.Context, symbol string, asOf time.Time, category model.Category) Result {
	start := time.Now()
	key := cache.NewKey(symbol, asOf, category)
	requestID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "coordinator.Resolve", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("as_of", key.AsOf),
		attribute.String("category", string(category)),
		attribute.String("request_id", requestID),
	))
	defer span.End()

	res, outcome := c.resolve(ctx, key, asOf)
	res.RequestID = requestID
	span.SetAttributes(attribute.String("outcome", outcome), attribute.String("grade", string(res.Grade)))
	if res.Err != nil {
		hubotel.RecordError(ctx, res.Err)
	}
	c.metrics.ObserveResolve(category, outcome, time.Since(start))

	logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"key":        key.String(),
		"outcome":    outcome,
		"provider":   res.Provider,
		"grade":      res.Grade,
	}).Debug("Resolved request")
	return res
}

func (c *Coordinator) resolve(ctx context.Context, key cache.Key, asOf time.Time) (Result, string) {
	if e, ok := c.store.Get(key); ok {
		c.metrics.CacheLookup(true)
		res := fromEntry(e)
		res.FromCache = true
		return res, metrics.OutcomeHit
	}
	c.metrics.CacheLookup(false)

	if !c.opts.Enabled {
		return c.fallback(key, "fetching disabled")
	}

	ch := c.flights.DoChan(key.String(), func() (interface{}, error) {
		if !c.enter() {
			return nil, errClosed
		}
		defer c.inflight.Done()
		fctx, cancel := c.fetchContext(ctx)
		defer cancel()
		return c.fetchAndStore(fctx, key, asOf)
	})

	select {
	case <-ctx.Done():
		return c.fallback(key, fmt.Sprintf("deadline elapsed: %v", ctx.Err()))
	case r := <-ch:
		if r.Err != nil {
			return c.fallback(key, fmt.Sprintf("all providers failed: %v", r.Err))
		}
		// peers share the flight's entry
		e := r.Val.(cache.Entry)
		e.Payload = e.Payload.Clone()
		e.Issues = append([]model.ValidationIssue(nil), e.Issues...)
		return fromEntry(e), metrics.OutcomeFetched
	}
}

// enter registers a running fetch unless the coordinator is closed.
func (c *Coordinator) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight.Add(1)
	return true
}

// fetchContext detaches the shared fetch from the cancellation of whichever
// caller started it, keeping that caller's deadline if it is earlier than the
// fetch timeout.
func (c *Coordinator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(c.opts.FetchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

// candidates returns registered provider IDs ordered by configured priority.
func (c *Coordinator) candidates() []string {
	ids := c.registry.IDs()
	sort.SliceStable(ids, func(i, j int) bool {
		pi, iok := c.opts.ProviderPriority[ids[i]]
		pj, jok := c.opts.ProviderPriority[ids[j]]
		if iok != jok {
			return iok
		}
		return pi < pj
	})
	return ids
}

// fetchAndStore walks providers in reliability order until one returns a
// payload, then assesses and caches it.
func (c *Coordinator) fetchAndStore(ctx context.Context, key cache.Key, asOf time.Time) (cache.Entry, error) {
	defer func() { c.metrics.SetProviderScores(c.tracker.Scores()) }()

	remaining := c.candidates()
	ordered := c.tracker.Order(remaining)
	if len(ordered) == 0 {
		return cache.Entry{}, errNoProviders
	}

	var lastErr error
	id := ordered[0]
	for {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		raw, err := c.attempt(ctx, id, key, asOf)
		if err == nil {
			c.tracker.RecordSuccess(id)
			entry := c.assess(raw, key)
			c.store.Put(entry)
			c.metrics.SetCacheEntries(c.store.Len())
			c.metrics.ObserveQuality(entry.Grade, entry.Issues)
			return entry, nil
		}
		lastErr = fmt.Errorf("%s: %w", id, err)

		remaining = without(remaining, id)
		next, ok := c.tracker.AutoDegrade(id, remaining)
		if !ok {
			// nothing eligible left: try what remains by score
			rest := c.tracker.Order(remaining)
			if len(rest) == 0 {
				break
			}
			next = rest[0]
		}
		id = next
	}
	return cache.Entry{}, lastErr
}

func (c *Coordinator) attempt(ctx context.Context, id string, key cache.Key, asOf time.Time) (model.RawMetricSet, error) {
	p, ok := c.registry.Get(id)
	if !ok {
		return model.RawMetricSet{}, fmt.Errorf("provider %q not registered", id)
	}

	ctx, span := c.tracer.Start(ctx, "provider.Fetch", trace.WithAttributes(attribute.String("provider", id)))
	defer span.End()

	raw, attempts, err := fetch.FetchWithRetry(ctx, p, key.Symbol, key.Category, asOf, c.opts.Retry)
	span.SetAttributes(attribute.Int("attempts", attempts))
	c.metrics.ProviderAttempt(id, attempts)
	if err == nil {
		return raw, nil
	}

	hubotel.RecordError(ctx, err)
	c.metrics.ProviderError(id)
	if countsAgainstProvider(err) {
		c.tracker.RecordFailure(id, err)
	}
	logrus.WithFields(logrus.Fields{
		"provider": id,
		"key":      key.String(),
		"attempts": attempts,
		"error":    err,
	}).Warn("Provider fetch failed")
	return model.RawMetricSet{}, err
}

// countsAgainstProvider is false for failures that say nothing about the
// provider's health. Unknown symbols are chosen by the caller.
func countsAgainstProvider(err error) bool {
	return !errors.Is(err, fetch.ErrUnsupportedCategory) &&
		!errors.Is(err, fetch.ErrNotFound) &&
		!errors.Is(err, context.Canceled)
}

// assess standardizes and validates a payload and builds the cache entry.
func (c *Coordinator) assess(raw model.RawMetricSet, key cache.Key) cache.Entry {
	std, stdIssues := standardize.Standardize(raw)
	results := c.validator.ValidateSet(std)
	if len(stdIssues) > 0 {
		r := model.NewValidationResult(DomainStandardization)
		for _, i := range stdIssues {
			r.Add(i)
		}
		r.Finalize()
		results = append(results, *r)
	}

	var issues []model.ValidationIssue
	confidence := 1.0
	if len(results) > 0 {
		sum := 0.0
		for _, r := range results {
			issues = append(issues, r.Issues...)
			sum += r.Confidence
		}
		confidence = sum / float64(len(results))
	}

	now := c.now()
	score := QualityScore(confidence, issues)
	return cache.Entry{
		Key:          key,
		Payload:      std,
		Grade:        model.GradeForScore(score),
		QualityScore: score,
		Confidence:   confidence,
		Issues:       issues,
		StoredAt:     now,
		TTL:          c.ttlFor(key.Category, now),
	}
}

func (c *Coordinator) ttlFor(category model.Category, now time.Time) time.Duration {
	base, ok := c.opts.BaseTTL[category]
	if !ok {
		base = DefaultOptions().BaseTTL[category]
	}
	sensitive, ok := c.opts.SensitiveTTL[category]
	if !ok {
		sensitive = base
	}
	return c.calendar.AdjustedTTL(category, base, now, sensitive, c.opts.SensitiveWindowDays)
}

// fallback serves a stale entry when one exists, or an unavailable result.
func (c *Coordinator) fallback(key cache.Key, reason string) (Result, string) {
	if e, ok := c.store.GetStale(key); ok {
		res := fromEntry(e)
		res.Grade = e.Grade.Degrade()
		res.FromCache = true
		res.Stale = true
		res.Reason = reason
		logrus.WithFields(logrus.Fields{
			"key":    key.String(),
			"reason": reason,
		}).Warn("Serving stale data")
		return res, metrics.OutcomeStale
	}

	logrus.WithFields(logrus.Fields{
		"key":    key.String(),
		"reason": reason,
	}).Error("No data available")
	return Result{
		Symbol:      key.Symbol,
		AsOf:        key.AsOf,
		Category:    key.Category,
		Unavailable: true,
		Reason:      reason,
		Err:         fmt.Errorf("%s: %s: %w", key, reason, ErrUnavailable),
	}, metrics.OutcomeUnavailable
}

// ResolveBatch resolves requests concurrently on the worker pool. Results are
// returned in request order.
func (c *Coordinator) ResolveBatch(ctx context.Context, reqs []Request) []Result {
	batchID := uuid.NewString()
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(c.opts.WorkerPoolSize)
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			results[i] = c.Resolve(ctx, r.Symbol, r.AsOf, r.Category)
			return nil
		})
	}
	_ = g.Wait()

	unavailable := 0
	for _, r := range results {
		if r.Unavailable {
			unavailable++
		}
	}
	logrus.WithFields(logrus.Fields{
		"batch_id":    batchID,
		"requests":    len(reqs),
		"unavailable": unavailable,
	}).Info("Resolved batch")
	return results
}

// Invalidate drops cached entries for a symbol, or for one of its dates.
func (c *Coordinator) Invalidate(symbol string, asOf *time.Time) int {
	n := c.store.Invalidate(symbol, asOf)
	c.metrics.SetCacheEntries(c.store.Len())
	logrus.WithFields(logrus.Fields{"symbol": symbol, "removed": n}).Info("Invalidated cache entries")
	return n
}

// InvalidateCategory drops every cached entry of a category.
func (c *Coordinator) InvalidateCategory(category model.Category) int {
	n := c.store.InvalidateCategory(category)
	c.metrics.SetCacheEntries(c.store.Len())
	logrus.WithFields(logrus.Fields{"category": category, "removed": n}).Info("Invalidated cache category")
	return n
}

// Stats returns a snapshot of cache and provider health.
func (c *Coordinator) Stats() Stats {
	return Stats{
		EntryCount:      c.store.Len(),
		HitRateWindowed: c.store.HitRate(),
		Hits:            c.store.Hits(),
		Misses:          c.store.Misses(),
		ProviderScores:  c.tracker.Scores(),
	}
}

// Tracker exposes the reliability tracker for operational endpoints.
func (c *Coordinator) Tracker() *reliability.Tracker { return c.tracker }

// CheckVolumeHistory flags spikes and drops in an ordered volume series.
func (c *Coordinator) CheckVolumeHistory(history []float64) model.ValidationResult {
	return *c.validator.VolumeHistory(history)
}

// CrossValidate fetches one canonical metric for symbol from each source (all
// registered providers when sources is empty) and scores their agreement.
// Provider scores are not affected.
func (c *Coordinator) CrossValidate(ctx context.Context, symbol string, sources []string, metric string) model.ValidationResult {
	if len(sources) == 0 {
		sources = c.candidates()
	}
	category, ok := model.CategoryOf(metric)
	if !ok {
		r := model.NewValidationResult(validation.DomainCrossSource)
		r.Addf(model.SeverityError, metric, "", "unknown metric %q", metric)
		r.Finalize()
		return *r
	}

	asOf := c.now()
	fetcher := func(ctx context.Context, source, symbol, metric string) (model.Value, error) {
		p, ok := c.registry.Get(source)
		if !ok {
			return model.Value{}, fmt.Errorf("provider %q not registered", source)
		}
		ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
		defer cancel()
		raw, _, err := fetch.FetchWithRetry(ctx, p, symbol, category, asOf, c.opts.Retry)
		if err != nil {
			return model.Value{}, err
		}
		std, _ := standardize.Standardize(raw)
		v, ok := std.Get(metric)
		if !ok {
			return model.Value{}, fmt.Errorf("%s has no %s: %w", source, metric, fetch.ErrNotFound)
		}
		return v, nil
	}

	cv := validation.NewCrossValidator(fetcher, c.opts.WorkerPoolSize, c.validator.Options())
	return cv.CrossValidate(ctx, symbol, sources, metric)
}

// QualityScore is 100 x mean confidence, less 30 per critical, 15 per error and
// 5 per warning, floored at 0.
func QualityScore(meanConfidence float64, issues []model.ValidationIssue) float64 {
	n := model.CountIssues(issues)
	score := 100*meanConfidence - 30*float64(n.Critical) - 15*float64(n.Error) - 5*float64(n.Warning)
	return math.Max(0, score)
}

func fromEntry(e cache.Entry) Result {
	return Result{
		Symbol:       e.Key.Symbol,
		AsOf:         e.Key.AsOf,
		Category:     e.Key.Category,
		Data:         e.Payload,
		Grade:        e.Grade,
		QualityScore: e.QualityScore,
		Confidence:   e.Confidence,
		Issues:       e.Issues,
		Provider:     e.Payload.Provider,
	}
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
