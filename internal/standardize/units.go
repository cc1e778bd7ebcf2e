// Package standardize converts raw provider values into canonical units and
// recomputes derived ratios from their components.
package standardize

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/yourorg/marketdata-hub/internal/model"
)

// SharesPerLot is the exchange board lot.
const SharesPerLot = 100

// Money inference thresholds for values without a declared unit.
const (
	yuanThreshold = 1_000_000
	yiThreshold   = 1_000
)

var (
	wanPerYi  = decimal.New(1, 4)
	yuanPerYi = decimal.New(1, 8)
)

// VolumeResult is a share count in canonical units.
type VolumeResult struct {
	Value        float64
	OriginalUnit model.Unit
	StandardUnit model.Unit
	Ratio        float64
}

// Volume converts a share count to shares. An undeclared unit is taken as shares
// and the value is never guessed at from its magnitude.
func Volume(value float64, unit model.Unit) (VolumeResult, error) {
	res := VolumeResult{Value: value, OriginalUnit: unit, StandardUnit: model.UnitShares, Ratio: 1}
	switch unit {
	case model.UnitNone, model.UnitShares:
		return res, nil
	case model.UnitLots:
		res.Ratio = SharesPerLot
		res.Value = value * SharesPerLot
		return res, nil
	default:
		return res, fmt.Errorf("unit %q is not a volume unit", unit)
	}
}

// MoneyResult is a currency amount in hundred-million CNY.
type MoneyResult struct {
	Value        float64
	Unit         model.Unit
	Original     float64
	OriginalUnit model.Unit
	Inferred     bool
}

// Money converts a CNY amount to yi. Declared units convert exactly. Undeclared
// amounts are classified by magnitude: above one million is yuan, below one
// thousand is already yi, anything between is wan.
func Money(value float64, unit model.Unit) (MoneyResult, error) {
	res := MoneyResult{Unit: model.UnitYi, Original: value, OriginalUnit: unit}

	effective := unit
	if unit == model.UnitNone {
		res.Inferred = true
		switch abs := math.Abs(value); {
		case abs > yuanThreshold:
			effective = model.UnitYuan
		case abs < yiThreshold:
			effective = model.UnitYi
		default:
			effective = model.UnitWan
		}
	}

	d := decimal.NewFromFloat(value)
	switch effective {
	case model.UnitYi:
	case model.UnitWan:
		d = d.Div(wanPerYi)
	case model.UnitYuan:
		d = d.Div(yuanPerYi)
	default:
		res.Value = value
		return res, fmt.Errorf("unit %q is not a money unit", unit)
	}
	res.Value, _ = d.Float64()
	if res.Inferred {
		res.OriginalUnit = effective
	}
	return res, nil
}
