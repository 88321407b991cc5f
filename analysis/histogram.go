// Package analysis computes and plots segment utilization distributions from
// collected datasets.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/businessperformancetuning/segutil/dataset"
	"github.com/gonum/floats"
	"github.com/gonum/stat"
)

var (
	ErrNoValues   = errors.New("no values")
	ErrBinCount   = errors.New("bin count must be positive")
	ErrNotFinite  = errors.New("value is not finite")
	ErrNoSeries   = errors.New("no series")
	ErrSeriesSize = errors.New("centers and densities differ in length")
)

// FilterPositive returns the rows of t with a utilization above zero.  Zero
// utilization segments are empty or were never allocated and would dominate
// the distribution.
func FilterPositive(t *dataset.Table) (*dataset.Table, error) {
	if !t.HasColumn(dataset.ColumnUtilization) {
		return nil, fmt.Errorf("%w: %v", dataset.ErrMissingColumn,
			dataset.ColumnUtilization)
	}

	var parseErr error
	nt := t.Filter(func(get func(string) string) bool {
		v, err := strconv.ParseFloat(get(dataset.ColumnUtilization), 64)
		if err != nil {
			if parseErr == nil {
				parseErr = err
			}
			return false
		}
		return v > 0
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return nt, nil
}

// HistogramDensity bins values into bins equal width bins spanning
// [min, max] and returns the bin centers with their density.  Densities are
// normalized so that their integral over the range is 1.  The last bin is
// closed.  When all values are equal the range is widened by 0.5 on either
// side.
func HistogramDensity(values []float64, bins int) ([]float64, []float64, error) {
	if bins < 1 {
		return nil, nil, ErrBinCount
	}
	if len(values) == 0 {
		return nil, nil, ErrNoValues
	}

	x := make([]float64, len(values))
	copy(x, values)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotFinite, v)
		}
	}
	sort.Float64s(x)

	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}
	width := (hi - lo) / float64(bins)

	dividers := floats.Span(make([]float64, bins+1), lo, hi)
	dividers[0] = lo
	// Histogram bins are half open, nudge the upper bound so the maximum
	// lands in the last bin.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, x, nil)

	n := float64(len(x))
	centers := make([]float64, bins)
	densities := make([]float64, bins)
	for i := range counts {
		centers[i] = lo + (float64(i)+0.5)*width
		densities[i] = counts[i] / (n * width)
	}
	return centers, densities, nil
}

// Summary describes a set of utilization values.
type Summary struct {
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Median float64
}

// Summarize returns summary statistics of values.
func Summarize(values []float64) (*Summary, error) {
	if len(values) == 0 {
		return nil, ErrNoValues
	}

	x := make([]float64, len(values))
	copy(x, values)
	sort.Float64s(x)

	s := &Summary{
		Count:  len(x),
		Min:    x[0],
		Max:    x[len(x)-1],
		Mean:   stat.Mean(x, nil),
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
	}
	if len(x) > 1 {
		s.StdDev = stat.StdDev(x, nil)
	}
	return s, nil
}
