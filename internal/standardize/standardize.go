package standardize

import (
	"fmt"
	"math"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// Standardize converts every volume field to shares and every money field to yi,
// then recomputes ps and the Bollinger band position from their components.
// Replaced values are recorded as corrections with the original kept.
func Standardize(raw model.RawMetricSet) (model.StandardizedMetricSet, []model.ValidationIssue) {
	out := model.NewStandardizedMetricSet(raw.Symbol, raw.Category, raw.AsOf, raw.Provider)
	var issues []model.ValidationIssue

	for _, name := range raw.Names() {
		f, _ := raw.Field(name)
		num, numeric := f.Value.Float()

		switch {
		case model.VolumeFields[name]:
			if !numeric {
				issues = append(issues, nonNumeric(name, f.Value))
				continue
			}
			vr, err := Volume(num, f.Unit)
			if err != nil {
				issues = append(issues, model.ValidationIssue{
					Severity: model.SeverityError,
					Field:    name,
					Message:  err.Error(),
					Actual:   model.Float(num),
					Source:   source,
				})
				continue
			}
			out.Set(name, model.Num(vr.Value), model.UnitShares)
			if vr.Ratio != 1 {
				recordConversion(&out, name, num, vr.Value, fmt.Sprintf("converted %s to shares", vr.OriginalUnit))
			}

		case model.MoneyFields[name]:
			if !numeric {
				issues = append(issues, nonNumeric(name, f.Value))
				continue
			}
			mr, err := Money(num, f.Unit)
			if err != nil {
				issues = append(issues, model.ValidationIssue{
					Severity: model.SeverityError,
					Field:    name,
					Message:  err.Error(),
					Actual:   model.Float(num),
					Source:   source,
				})
				continue
			}
			out.Set(name, model.Num(mr.Value), model.UnitYi)
			if mr.Inferred {
				issues = append(issues, model.ValidationIssue{
					Severity: model.SeverityInfo,
					Field:    name,
					Message:  fmt.Sprintf("no unit declared, treated as %s by magnitude", mr.OriginalUnit),
					Actual:   model.Float(num),
					Source:   source,
				})
			}
			if mr.Value != num {
				recordConversion(&out, name, num, mr.Value, fmt.Sprintf("converted %s to yi", mr.OriginalUnit))
			}

		default:
			out.Set(name, f.Value, f.Unit)
		}
	}

	ps := ValidateAndCorrectPriceToSales(out)
	issues = append(issues, ps.Issues...)
	if ps.CorrectedValue != nil {
		var orig *model.Value
		if v, ok := out.Get(model.FieldPS); ok {
			orig = &v
		}
		out.Set(model.FieldPS, model.Num(*ps.CorrectedValue), model.UnitNone)
		reason := "recomputed from market_cap / revenue"
		if orig == nil {
			reason = "filled from market_cap / revenue"
		}
		out.Corrections = append(out.Corrections, model.Correction{
			Field:     model.FieldPS,
			Original:  orig,
			Corrected: *ps.CorrectedValue,
			Reason:    reason,
		})
	}

	issues = append(issues, recomputeBollinger(&out)...)
	return out, issues
}

func recomputeBollinger(out *model.StandardizedMetricSet) []model.ValidationIssue {
	upper, okU := out.Number(model.FieldBollUpper)
	lower, okL := out.Number(model.FieldBollLower)
	price, okP := out.Number(model.FieldPrice)
	if !okU || !okL || !okP {
		return nil
	}
	var middle, reported *float64
	if m, ok := out.Number(model.FieldBollMiddle); ok {
		middle = &m
	}
	if r, ok := out.Number(model.FieldBollPosition); ok {
		reported = &r
	}

	br := BollingerPosition(upper, lower, middle, price, reported)
	if br.Position == nil {
		// Band geometry is reported by the price validator.
		return nil
	}
	pos := *br.Position
	switch {
	case reported == nil:
		out.Set(model.FieldBollPosition, model.Num(pos), model.UnitPercent)
	case math.Abs(*reported-pos) > BollingerTolerance:
		orig := model.Num(*reported)
		out.Set(model.FieldBollPosition, model.Num(pos), model.UnitPercent)
		out.Corrections = append(out.Corrections, model.Correction{
			Field:     model.FieldBollPosition,
			Original:  &orig,
			Corrected: pos,
			Reason:    "recomputed from band and price",
		})
	}
	var mismatches []model.ValidationIssue
	for _, i := range br.Issues {
		if i.Field == model.FieldBollPosition {
			mismatches = append(mismatches, i)
		}
	}
	return mismatches
}

func recordConversion(out *model.StandardizedMetricSet, name string, from, to float64, reason string) {
	orig := model.Num(from)
	out.Corrections = append(out.Corrections, model.Correction{
		Field:     name,
		Original:  &orig,
		Corrected: to,
		Reason:    reason,
	})
}

func nonNumeric(name string, v model.Value) model.ValidationIssue {
	return model.ValidationIssue{
		Severity: model.SeverityError,
		Field:    name,
		Message:  fmt.Sprintf("expected a number, got %q", v.String()),
		Source:   source,
	}
}
