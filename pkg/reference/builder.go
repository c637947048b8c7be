package reference

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/HatiCode/hydrastral/pkg/adapters"
)

// Builder computes day-of-year percentile tables for a fixed rank set.
// A Builder holds no mutable state and is safe for concurrent use.
type Builder struct {
	ranks []float64
}

// NewBuilder returns a Builder for ranks. A nil or empty rank set selects
// DefaultRanks.
func NewBuilder(ranks []float64) (*Builder, error) {
	if len(ranks) == 0 {
		ranks = DefaultRanks
	}
	ranks = slices.Clone(ranks)
	sort.Float64s(ranks)
	if err := ValidateRanks(ranks); err != nil {
		return nil, fmt.Errorf("invalid rank set: %w", err)
	}
	return &Builder{ranks: ranks}, nil
}

// Ranks returns a copy of the configured rank set.
func (b *Builder) Ranks() []float64 {
	return slices.Clone(b.ranks)
}

// Build groups the series by calendar day-of-year and computes the
// configured percentile thresholds for each day.
//
// Days pool observations from every year by ordinal day, so day 60 is
// 1 March in common years and 29 February in leap years; day 366 only
// receives 31 December of leap years. Days with no observation get an
// insufficient row. Build fails with *InsufficientHistoryError only when
// the whole series has no observed value.
func (b *Builder) Build(series adapters.DailySeries) (*Table, error) {
	var buckets [DaysInYear][]float64
	observed := 0
	for _, dv := range series.Values {
		if dv.Value == nil || math.IsNaN(*dv.Value) || math.IsInf(*dv.Value, 0) {
			continue
		}
		doy := dv.Date.YearDay()
		buckets[doy-1] = append(buckets[doy-1], *dv.Value)
		observed++
	}
	if observed == 0 {
		return nil, &InsufficientHistoryError{GaugeID: series.GaugeID}
	}

	table := &Table{GaugeID: series.GaugeID, Ranks: slices.Clone(b.ranks)}
	for i := range buckets {
		day := i + 1
		values := buckets[i]
		if len(values) == 0 {
			table.Days[i] = insufficientRow(day, b.ranks)
			continue
		}

		sort.Float64s(values)
		row := DayRow{Day: day, SampleSize: len(values), Thresholds: make([]Threshold, len(b.ranks))}
		for j, r := range b.ranks {
			row.Thresholds[j] = Threshold{Rank: r, Value: RankValue(values, r), Valid: true}
		}
		table.Days[i] = row
	}
	return table, nil
}

// RankValue returns the value at percentile rank p (0–100) of an ascending,
// non-empty slice. The rank position is p/100·(n−1), zero-indexed, and the
// result is linearly interpolated between the two bracketing values.
func RankValue(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	if lo < 0 {
		return sorted[0]
	}
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := pos - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}
	v := sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
	// Rounding must not push the result past the upper bracket, or
	// thresholds could decrease between adjacent ranks.
	return min(v, sorted[lo+1])
}
