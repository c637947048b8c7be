// Package classify turns one live reading and its gauge's day-of-year
// reference table into a flow percentile and a set of status labels.
//
// The Classifier emits flow, drought and flood status independently. Which
// one wins when rendering is left to consumers.
package classify

import (
	"math"
	"time"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/reference"
)

// Result is the classification of one gauge at one instant.
type Result struct {
	GaugeID    string
	Partition  string
	ObservedAt time.Time

	// Flow and GageHeight echo the reading.
	Flow       *float64
	GageHeight *float64

	// Percentile is nil when FlowStatus is NoData.
	Percentile    *float64
	FlowStatus    string
	DroughtStatus *string
	FloodStatus   *string

	// Trend fields are filled by the live pass when history is available.
	Trend          string
	TrendRate      *float64
	HoursSincePeak *float64
}

// Classifier maps readings to statuses. It is stateless and safe for
// concurrent use.
type Classifier struct {
	bands   Bands
	drought *DroughtTiers
}

// New returns a Classifier. Zero-valued bands select DefaultBands; a nil
// drought configuration disables drought classification.
func New(bands Bands, drought *DroughtTiers) *Classifier {
	if bands == (Bands{}) {
		bands = DefaultBands
	}
	return &Classifier{bands: bands, drought: drought}
}

// Default returns a Classifier with the default bands and drought tiers.
func Default() *Classifier {
	tiers := DefaultDroughtTiers
	return New(DefaultBands, &tiers)
}

// Classify derives the percentile and statuses of reading against table for
// day-of-year doy. A nil table, a missing discharge or an insufficient row
// all yield a nil percentile and NoData. Flood status depends only on the
// gage height and stages, so it is reported even without a percentile.
func (c *Classifier) Classify(reading adapters.Reading, table *reference.Table, doy int, stages *adapters.FloodStages) Result {
	res := Result{
		GaugeID:     reading.GaugeID,
		ObservedAt:  reading.ObservedAt,
		Flow:        reading.Discharge,
		GageHeight:  reading.GageHeight,
		FlowStatus:  NoData,
		FloodStatus: FloodStatus(reading.GageHeight, stages),
	}

	if table == nil || reading.Discharge == nil {
		return res
	}
	row, ok := rowFor(table, doy)
	if !ok {
		return res
	}
	p, ok := Percentile(row, *reading.Discharge)
	if !ok {
		return res
	}

	res.Percentile = &p
	res.FlowStatus = c.bands.Status(p)
	if c.drought != nil {
		res.DroughtStatus = c.drought.Status(p)
	}
	return res
}

// rowFor returns the row for doy. Day 366 falls back to day 365 when the
// table has no leap-day observations.
func rowFor(table *reference.Table, doy int) (reference.DayRow, bool) {
	row, ok := table.Row(doy)
	if !ok {
		return reference.DayRow{}, false
	}
	if doy == reference.DaysInYear && row.Insufficient() {
		if prev, ok := table.Row(doy - 1); ok {
			row = prev
		}
	}
	if row.Insufficient() {
		return reference.DayRow{}, false
	}
	return row, true
}

// medianRank is the rank a tie run collapses toward.
const medianRank = 50

// Percentile interpolates the rank of value within row's valid thresholds.
//
// Values below the lowest threshold clamp to its rank and values above the
// highest clamp to its rank. A value equal to one threshold returns that
// rank exactly; equal to a run of tied thresholds, the rank in the run
// closest to the median, so a reading equal to the rank-50 threshold is
// always 50. ok is false when the row has no valid threshold or value is NaN.
func Percentile(row reference.DayRow, value float64) (float64, bool) {
	if math.IsNaN(value) {
		return 0, false
	}
	valid := make([]reference.Threshold, 0, len(row.Thresholds))
	for _, th := range row.Thresholds {
		if th.Valid {
			valid = append(valid, th)
		}
	}
	if len(valid) == 0 {
		return 0, false
	}

	first, last := valid[0], valid[len(valid)-1]
	if value < first.Value {
		return first.Rank, true
	}
	if value > last.Value {
		return last.Rank, true
	}

	for i, th := range valid {
		if value > th.Value {
			continue
		}
		if value == th.Value {
			best := th.Rank
			for j := i + 1; j < len(valid) && valid[j].Value == value; j++ {
				if math.Abs(valid[j].Rank-medianRank) < math.Abs(best-medianRank) {
					best = valid[j].Rank
				}
			}
			return best, true
		}
		lo := valid[i-1]
		frac := (value - lo.Value) / (th.Value - lo.Value)
		return lo.Rank + frac*(th.Rank-lo.Rank), true
	}
	return last.Rank, true
}
