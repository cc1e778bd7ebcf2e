package standardize

import (
	"fmt"
	"math"

	"github.com/yourorg/marketdata-hub/internal/model"
)

const source = "standardizer"

// Tolerances for reported derived values.
const (
	PSTolerance        = 0.10 // relative
	BollingerTolerance = 2.0  // percentage points
)

// Lookup is satisfied by model.StandardizedMetricSet and model.NumericMap.
type Lookup interface {
	Number(name string) (float64, bool)
}

// RecomputePriceToSales returns marketCap / revenue, both in yi. Nil when revenue
// is not positive.
func RecomputePriceToSales(marketCap, revenue float64) *float64 {
	if revenue <= 0 || math.IsNaN(marketCap) || math.IsInf(marketCap, 0) {
		return nil
	}
	return model.Float(marketCap / revenue)
}

// PSResult is the outcome of checking a reported price-to-sales ratio.
type PSResult struct {
	Issues         []model.ValidationIssue
	CorrectedValue *float64
	Computed       *float64
}

// ValidateAndCorrectPriceToSales compares the reported ps against market_cap /
// revenue. A relative difference above 10% is an error and CorrectedValue holds the
// recomputed ratio. A missing ps is filled from the components with an info note.
func ValidateAndCorrectPriceToSales(values Lookup) PSResult {
	var res PSResult
	mc, okMC := values.Number(model.FieldMarketCap)
	rev, okRev := values.Number(model.FieldRevenue)
	if !okMC || !okRev {
		return res
	}

	computed := RecomputePriceToSales(mc, rev)
	if computed == nil {
		res.Issues = append(res.Issues, model.ValidationIssue{
			Severity: model.SeverityInfo,
			Field:    model.FieldPS,
			Message:  "revenue is not positive, ps cannot be recomputed",
			Actual:   model.Float(rev),
			Source:   source,
		})
		return res
	}
	res.Computed = computed

	reported, ok := values.Number(model.FieldPS)
	if !ok {
		res.CorrectedValue = computed
		res.Issues = append(res.Issues, model.ValidationIssue{
			Severity: model.SeverityInfo,
			Field:    model.FieldPS,
			Message:  fmt.Sprintf("ps not reported, computed %.4f from market_cap / revenue", *computed),
			Expected: computed,
			Source:   source,
		})
		return res
	}

	if *computed == 0 {
		if reported != 0 {
			res.CorrectedValue = computed
			res.Issues = append(res.Issues, psMismatch(reported, *computed))
		}
		return res
	}
	if math.Abs(reported-*computed)/math.Abs(*computed) > PSTolerance {
		res.CorrectedValue = computed
		res.Issues = append(res.Issues, psMismatch(reported, *computed))
	}
	return res
}

func psMismatch(reported, computed float64) model.ValidationIssue {
	return model.ValidationIssue{
		Severity: model.SeverityError,
		Field:    model.FieldPS,
		Message:  fmt.Sprintf("reported ps %.4f differs from market_cap / revenue %.4f, replaced", reported, computed),
		Expected: model.Float(computed),
		Actual:   model.Float(reported),
		Source:   source,
	}
}

// BollingerResult is the recomputed position of price within its band.
type BollingerResult struct {
	IsValid  bool
	Position *float64
	Issues   []model.ValidationIssue
}

// BollingerPosition computes (price - lower) / (upper - lower) * 100. IsValid
// reports band geometry: upper > lower > 0, with middle between them when given.
// A reported position further than 2 points from the computed one is an error.
func BollingerPosition(upper, lower float64, middle *float64, price float64, reported *float64) BollingerResult {
	res := BollingerResult{IsValid: true}

	if !(upper > lower && lower > 0) {
		res.IsValid = false
		res.Issues = append(res.Issues, model.ValidationIssue{
			Severity: model.SeverityError,
			Field:    model.FieldBollPosition,
			Message:  fmt.Sprintf("band is inverted or non-positive (upper %.4f, lower %.4f)", upper, lower),
			Source:   source,
		})
		return res
	}
	if middle != nil && (*middle < lower || *middle > upper) {
		res.IsValid = false
		res.Issues = append(res.Issues, model.ValidationIssue{
			Severity: model.SeverityError,
			Field:    model.FieldBollMiddle,
			Message:  fmt.Sprintf("middle band %.4f is outside [%.4f, %.4f]", *middle, lower, upper),
			Actual:   model.Float(*middle),
			Source:   source,
		})
	}

	pos := (price - lower) / (upper - lower) * 100
	res.Position = model.Float(pos)

	if reported != nil && math.Abs(*reported-pos) > BollingerTolerance {
		res.Issues = append(res.Issues, model.ValidationIssue{
			Severity: model.SeverityError,
			Field:    model.FieldBollPosition,
			Message:  fmt.Sprintf("reported band position %.2f differs from computed %.2f", *reported, pos),
			Expected: model.Float(pos),
			Actual:   model.Float(*reported),
			Source:   source,
		})
	}
	return res
}
