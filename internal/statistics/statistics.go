// Package statistics provides the dispersion and averaging helpers used by the
// replicate admission loop.
package statistics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
)

// ErrEmpty is returned when a summary is requested over no values.
var ErrEmpty = errors.New("statistics: no values")

// ErrNotFinite is returned when an input or a derived statistic is NaN or infinite.
var ErrNotFinite = errors.New("statistics: value is not finite")

// Finite reports whether every value is neither NaN nor infinite.
func Finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Summary describes the dispersion of a set of replicate values.
type Summary struct {
	N      int
	Mean   float64
	StdDev float64
	// CV is the coefficient of variation in percent. It is zero when the mean is zero.
	CV float64
}

// Summarize computes mean, sample standard deviation and CV over values.
// A single value has zero dispersion. Non-finite inputs, or sums that
// overflow, yield ErrNotFinite.
func Summarize(values []float64) (Summary, error) {
	if len(values) == 0 {
		return Summary{}, ErrEmpty
	}
	if !Finite(values...) {
		return Summary{}, ErrNotFinite
	}
	data := stats.Float64Data(values)
	mean, err := stats.Mean(data)
	if err != nil {
		return Summary{}, fmt.Errorf("mean: %w", err)
	}
	var sd float64
	if len(values) > 1 {
		sd, err = stats.StandardDeviationSample(data)
		if err != nil {
			return Summary{}, fmt.Errorf("standard deviation: %w", err)
		}
	}
	summary := Summary{N: len(values), Mean: mean, StdDev: sd}
	if mean != 0 {
		summary.CV = 100 * sd / mean
	}
	if !Finite(summary.Mean, summary.StdDev, summary.CV) {
		return Summary{}, ErrNotFinite
	}
	return summary, nil
}

// ColumnMeans averages equally indexed positions across rows. Rows shorter
// than width contribute zero for the missing positions.
func ColumnMeans(rows [][]float64, width int) []float64 {
	if len(rows) == 0 || width <= 0 {
		return nil
	}
	sums := make([]float64, width)
	for _, row := range rows {
		padded := make([]float64, width)
		copy(padded, row)
		floats.Add(sums, padded)
	}
	floats.Scale(1/float64(len(rows)), sums)
	return sums
}

// Mean is the arithmetic mean of values, zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values) / float64(len(values))
}

// Round rounds half away from zero to the given number of decimal places.
// NaN and infinities are returned unchanged.
func Round(value float64, places int32) float64 {
	if !Finite(value) {
		return value
	}
	return decimal.NewFromFloat(value).Round(places).InexactFloat64()
}

// Truncate drops digits beyond the given number of decimal places without rounding.
// NaN and infinities are returned unchanged.
func Truncate(value float64, places int32) float64 {
	if !Finite(value) {
		return value
	}
	return decimal.NewFromFloat(value).Truncate(places).InexactFloat64()
}

// WholePercentages converts shares into integer percentages of their sum that
// add up to exactly 100 using the largest remainder method. Keys with the
// largest fractional parts receive the leftover points; ties break on key order.
// A non-positive or non-finite total maps every key to zero.
func WholePercentages[K ~string](shares map[K]float64) map[K]int {
	out := make(map[K]int, len(shares))
	var total float64
	for _, v := range shares {
		total += v
	}
	if total <= 0 || !Finite(total) {
		for k := range shares {
			out[k] = 0
		}
		return out
	}
	type part struct {
		key       K
		remainder decimal.Decimal
	}
	hundred := decimal.NewFromInt(100)
	denominator := decimal.NewFromFloat(total)
	parts := make([]part, 0, len(shares))
	assigned := int64(0)
	for k, v := range shares {
		pct := decimal.NewFromFloat(v).Mul(hundred).Div(denominator)
		whole := pct.Floor()
		out[k] = int(whole.IntPart())
		assigned += whole.IntPart()
		parts = append(parts, part{key: k, remainder: pct.Sub(whole)})
	}
	sort.Slice(parts, func(i, j int) bool {
		if c := parts[i].remainder.Cmp(parts[j].remainder); c != 0 {
			return c > 0
		}
		return parts[i].key < parts[j].key
	})
	for i := 0; assigned < 100 && len(parts) > 0; i++ {
		out[parts[i%len(parts)].key]++
		assigned++
	}
	return out
}

// Sum adds values, zero for an empty slice.
func Sum(values []float64) float64 {
	return floats.Sum(values)
}
