package validation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/marketdata-hub/internal/aggregate"
	"github.com/yourorg/marketdata-hub/internal/model"
)

// SourceFetcher retrieves one metric for a symbol from a named source.
type SourceFetcher func(ctx context.Context, source, symbol, metric string) (model.Value, error)

// CrossValidator fetches one metric from several sources concurrently and scores
// their agreement.
type CrossValidator struct {
	fetch    SourceFetcher
	poolSize int
	opts     ValidationOptions
}

// NewCrossValidator creates a CrossValidator that runs at most poolSize fetches
// at once.
func NewCrossValidator(fetch SourceFetcher, poolSize int, opts ValidationOptions) *CrossValidator {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &CrossValidator{fetch: fetch, poolSize: poolSize, opts: opts}
}

// CrossValidate fetches metric from every source and scores the values that
// came back. Failed sources are reported as info issues and excluded.
func (c *CrossValidator) CrossValidate(ctx context.Context, symbol string, sources []string, metric string) model.ValidationResult {
	type outcome struct {
		value model.Value
		err   error
	}
	outcomes := make([]outcome, len(sources))

	var g errgroup.Group
	g.SetLimit(c.poolSize)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			v, err := c.fetch(ctx, src, symbol, metric)
			outcomes[i] = outcome{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	values := make(map[string]model.Value, len(sources))
	var failed []model.ValidationIssue
	for i, src := range sources {
		if outcomes[i].err != nil {
			failed = append(failed, model.ValidationIssue{
				Severity: model.SeverityInfo,
				Field:    metric,
				Message:  fmt.Sprintf("source unavailable: %v", outcomes[i].err),
				Source:   src,
			})
			continue
		}
		values[src] = outcomes[i].value
	}

	res := ScoreSources(metric, values, c.opts)
	res.Issues = append(failed, res.Issues...)
	res.IsValid = !model.HasBlocking(res.Issues)

	logrus.WithFields(logrus.Fields{
		"symbol":     symbol,
		"metric":     metric,
		"sources":    len(sources),
		"responded":  len(values),
		"confidence": res.Confidence,
		"valid":      res.IsValid,
	}).Debug("Cross-validated metric")
	return res
}

// ScoreSources scores agreement between values of one metric keyed by source.
//
// Numeric values: confidence is 1 - 10*CV clamped to [0,1]; a pairwise spread
// above SpreadWarning of the mean is a warning and above SpreadError an error;
// with three or more sources the median is suggested. Text values score 1.0 when
// identical and 0.3 otherwise. Fewer than two values score 0.5.
func ScoreSources(metric string, values map[string]model.Value, opts ValidationOptions) model.ValidationResult {
	r := model.NewValidationResult(DomainCrossSource)

	srcs := make([]string, 0, len(values))
	for s := range values {
		srcs = append(srcs, s)
	}
	sort.Strings(srcs)

	if len(srcs) < 2 {
		r.Confidence = 0.5
		r.Addf(model.SeverityWarning, metric, "", "only %d source(s) responded, agreement cannot be scored", len(srcs))
		if len(srcs) == 1 {
			if f, ok := values[srcs[0]].Float(); ok {
				r.SuggestedValue = model.Float(f)
			}
		}
		r.IsValid = !model.HasBlocking(r.Issues)
		return *r
	}

	nums := make([]float64, 0, len(srcs))
	allNumeric := true
	for _, s := range srcs {
		f, ok := values[s].Float()
		if !ok {
			allNumeric = false
			break
		}
		nums = append(nums, f)
	}

	if !allNumeric {
		first := values[srcs[0]].String()
		r.Confidence = 1.0
		for _, s := range srcs[1:] {
			if values[s].String() != first {
				r.Confidence = 0.3
				r.Addf(model.SeverityWarning, metric, s, "sources disagree: %q vs %q", first, values[s].String())
				break
			}
		}
		r.IsValid = !model.HasBlocking(r.Issues)
		return *r
	}

	if cv, ok := aggregate.CoefficientOfVariation(nums); ok {
		r.Confidence = math.Max(0, math.Min(1, 1-10*cv))
	} else if aggregate.MaxSpread(nums) == 0 {
		r.Confidence = 1
	} else {
		r.Confidence = 0
	}

	spread := aggregate.MaxSpread(nums)
	mean := aggregate.Mean(nums)
	switch {
	case spread > opts.SpreadError:
		r.Add(model.ValidationIssue{
			Severity: model.SeverityError,
			Field:    metric,
			Message:  fmt.Sprintf("sources spread %.1f%% of their mean", spread*100),
			Expected: model.Float(mean),
			Source:   DomainCrossSource,
		})
	case spread > opts.SpreadWarning:
		r.Add(model.ValidationIssue{
			Severity: model.SeverityWarning,
			Field:    metric,
			Message:  fmt.Sprintf("sources spread %.1f%% of their mean", spread*100),
			Expected: model.Float(mean),
			Source:   DomainCrossSource,
		})
	}

	for _, i := range aggregate.OutlierIndices(nums, opts.OutlierIQRMultiplier) {
		r.Add(model.ValidationIssue{
			Severity: model.SeverityWarning,
			Field:    metric,
			Message:  "value is an outlier among sources",
			Actual:   model.Float(nums[i]),
			Source:   srcs[i],
		})
	}

	if len(nums) >= 3 {
		r.SuggestedValue = model.Float(aggregate.Median(nums))
	}
	r.IsValid = !model.HasBlocking(r.Issues)
	return *r
}
