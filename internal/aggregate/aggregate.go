// Package aggregate provides the small statistics used to compare values of one
// metric reported by several sources.
package aggregate

import (
	"math"
	"sort"
)

// DefaultIQRMultiplier is the usual Tukey fence.
const DefaultIQRMultiplier = 1.5

// Finite drops NaN and infinite values.
func Finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Median returns the middle value, averaging the two middle values for even
// counts. The input is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// StdDev is the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// CoefficientOfVariation is StdDev / |Mean|. ok is false when fewer than two
// values are given or the mean is zero.
func CoefficientOfVariation(values []float64) (cv float64, ok bool) {
	if len(values) < 2 {
		return 0, false
	}
	mean := Mean(values)
	if mean == 0 {
		return 0, false
	}
	return StdDev(values) / math.Abs(mean), true
}

// MaxSpread is the largest pairwise difference relative to the mean, i.e.
// (max - min) / |mean|.
func MaxSpread(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := Mean(values)
	if mean == 0 {
		if hi == lo {
			return 0
		}
		return math.Inf(1)
	}
	return (hi - lo) / math.Abs(mean)
}

// Quartiles returns Q1 and Q3 using the nearest-rank indices n/4 and 3n/4.
func Quartiles(values []float64) (q1, q3 float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	return sorted[n/4], sorted[n*3/4]
}

// OutlierIndices returns the positions of values outside
// [Q1 - k*IQR, Q3 + k*IQR]. Fewer than four values never have outliers.
func OutlierIndices(values []float64, k float64) []int {
	if len(values) < 4 {
		return nil
	}
	if k <= 0 {
		k = DefaultIQRMultiplier
	}
	q1, q3 := Quartiles(values)
	iqr := q3 - q1
	lower, upper := q1-k*iqr, q3+k*iqr

	var idx []int
	for i, v := range values {
		if v < lower || v > upper {
			idx = append(idx, i)
		}
	}
	return idx
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}
