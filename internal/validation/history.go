package validation

import (
	"fmt"

	"github.com/yourorg/marketdata-hub/internal/aggregate"
	"github.com/yourorg/marketdata-hub/internal/model"
)

// VolumeHistory flags points in an ordered volume series whose ratio to the
// series mean is above SpikeRatio (warning) or below DropRatio (info).
func (v *Validator) VolumeHistory(history []float64) *model.ValidationResult {
	r := model.NewValidationResult(DomainHistory)

	clean := aggregate.Finite(history)
	mean := aggregate.Mean(clean)
	if len(clean) < 2 || mean <= 0 {
		r.Finalize()
		return r
	}

	for i, vol := range history {
		ratio := vol / mean
		switch {
		case ratio > v.opts.SpikeRatio:
			r.Add(model.ValidationIssue{
				Severity: model.SeverityWarning,
				Field:    model.FieldVolume,
				Message:  formatPoint("spike", i, ratio),
				Expected: model.Float(mean),
				Actual:   model.Float(vol),
				Source:   source,
			})
		case ratio < v.opts.DropRatio:
			r.Add(model.ValidationIssue{
				Severity: model.SeverityInfo,
				Field:    model.FieldVolume,
				Message:  formatPoint("drop", i, ratio),
				Expected: model.Float(mean),
				Actual:   model.Float(vol),
				Source:   source,
			})
		}
	}

	r.Finalize()
	return r
}

func formatPoint(kind string, i int, ratio float64) string {
	return fmt.Sprintf("%s at index %d, %.2fx mean", kind, i, ratio)
}
