package visvalue

import (
	"errors"
	"math"
	"slices"
)

// Histogram is a fixed-bin histogram of a sequence of scalars.
type Histogram struct {
	// BinEdges has one more element than Counts; bin i covers
	// [BinEdges[i], BinEdges[i+1]).
	BinEdges []float64

	// Counts is the number of values in each bin.
	Counts []int64

	// Min, Max and Sum summarize the input values.
	Min float64
	Max float64
	Sum float64

	// SumSquares is the sum of squared input values.
	SumSquares float64
}

// NewHistogram bins values into the given number of equal-width bins.
//
// NaN values are skipped. Returns an error if no finite values remain
// or bins is not positive.
func NewHistogram(values []float64, bins int) (Histogram, error) {
	if bins <= 0 {
		return Histogram{}, errors.New("visvalue: bins must be positive")
	}

	finite := slices.DeleteFunc(slices.Clone(values), func(v float64) bool {
		return math.IsNaN(v) || math.IsInf(v, 0)
	})
	if len(finite) == 0 {
		return Histogram{}, errors.New("visvalue: no finite values")
	}

	h := Histogram{
		Min: slices.Min(finite),
		Max: slices.Max(finite),
	}
	for _, v := range finite {
		h.Sum += v
		h.SumSquares += v * v
	}

	width := (h.Max - h.Min) / float64(bins)
	if width == 0 {
		// All values equal; use a single unit-width bin around them.
		h.BinEdges = []float64{h.Min - 0.5, h.Min + 0.5}
		h.Counts = []int64{int64(len(finite))}
		return h, nil
	}

	h.BinEdges = make([]float64, bins+1)
	for i := range h.BinEdges {
		h.BinEdges[i] = h.Min + width*float64(i)
	}

	h.Counts = make([]int64, bins)
	for _, v := range finite {
		idx := int((v - h.Min) / width)
		if idx >= bins {
			idx = bins - 1
		}
		h.Counts[idx]++
	}

	return h, nil
}

// HistoryValueJSON returns the histogram's history-row representation.
func (h Histogram) HistoryValueJSON() map[string]any {
	return map[string]any{
		"_type":  "histogram",
		"bins":   h.BinEdges,
		"values": h.Counts,
	}
}

// Count returns the total number of binned values.
func (h Histogram) Count() int64 {
	var total int64
	for _, c := range h.Counts {
		total += c
	}
	return total
}
