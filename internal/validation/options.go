// Package validation checks standardized metric sets for impossible values and
// cross-field inconsistencies, and scores agreement between sources.
package validation

import "github.com/yourorg/marketdata-hub/internal/model"

// Bounds is an inclusive range.
type Bounds struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool { return v >= b.Min && v <= b.Max }

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// Ranges are hard per-metric bounds. Values outside are errors.
	Ranges map[string]Bounds

	// RSIOverbought and RSIOversold mark unusual but plausible RSI readings
	RSIOverbought float64
	RSIOversold   float64

	// HighDebtRatio flags leverage above this percentage
	HighDebtRatio float64

	// MaxDailyChangePct flags moves beyond the widest board limit
	MaxDailyChangePct float64

	// MarketCapTolerance is the relative tolerance for market_cap vs shares * price
	MarketCapTolerance float64

	// TurnoverTolerance is the relative tolerance for turnover vs volume / float shares
	TurnoverTolerance float64

	// SpikeRatio and DropRatio bound a volume's ratio to the history mean
	SpikeRatio float64
	DropRatio  float64

	// SpreadWarning and SpreadError bound the pairwise spread between sources,
	// relative to their mean
	SpreadWarning float64
	SpreadError   float64

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		Ranges: map[string]Bounds{
			model.FieldPE:          {-500, 500},
			model.FieldPB:          {0, 100},
			model.FieldPS:          {0, 100},
			model.FieldROE:         {-100, 100},
			model.FieldROA:         {-100, 100},
			model.FieldTurnover:    {0, 100},
			model.FieldRSI:         {0, 100},
			model.FieldDebtRatio:   {0, 100},
			model.FieldGrossMargin: {-100, 100},
			model.FieldNetMargin:   {-100, 100},
		},
		RSIOverbought:        80,
		RSIOversold:          20,
		HighDebtRatio:        80,
		MaxDailyChangePct:    20,
		MarketCapTolerance:   0.10,
		TurnoverTolerance:    0.20,
		SpikeRatio:           3.0,
		DropRatio:            0.3,
		SpreadWarning:        0.10,
		SpreadError:          0.30,
		OutlierIQRMultiplier: 1.5,
	}
}
