// Package adapters provides hydrastral's observation source connectors. They
// retrieve gauge observations from external hydrological services and
// normalize them into a small set of typed records.
//
// Each source implements the Source interface and can be plugged into the
// fleet orchestrator. Available implementations include:
//   - USGSAdapter: USGS NWIS daily values and instantaneous values
//   - FixtureAdapter: replays NWIS JSON documents stored in a local directory
//   - NWSAdapter: NWS flood-stage categories (auxiliary data, not a Source)
//
// Adapters are intentionally lightweight. They focus on pulling raw data,
// shaping it into [DailySeries] and [Reading] values, and classifying upstream
// failures. Percentile math and status mapping live in the upper layers.
package adapters

import (
	"context"
	"math"
	"time"
)

// Gauge identifies one monitoring site.
// Lat/Lon are carried for display only.
type Gauge struct {
	ID        string  `yaml:"id" json:"id"`
	Partition string  `yaml:"partition" json:"partition"`
	Name      string  `yaml:"name,omitempty" json:"name,omitempty"`
	Lat       float64 `yaml:"lat,omitempty" json:"lat,omitempty"`
	Lon       float64 `yaml:"lon,omitempty" json:"lon,omitempty"`
}

// DailyValue is one calendar day of mean discharge. Value is nil when the
// upstream reported no usable measurement for that day.
type DailyValue struct {
	Date  time.Time
	Value *float64
}

// DailySeries is the historical daily record for one gauge, ordered by date.
type DailySeries struct {
	GaugeID string
	Values  []DailyValue
}

// Observed returns the number of days carrying a value.
func (s DailySeries) Observed() int {
	n := 0
	for _, v := range s.Values {
		if v.Value != nil {
			n++
		}
	}
	return n
}

// Reading is one instantaneous observation. Discharge and GageHeight are nil
// when the upstream omitted them or flagged them invalid.
type Reading struct {
	GaugeID    string
	ObservedAt time.Time
	Discharge  *float64
	GageHeight *float64
}

// FloodStages holds the externally supplied stage thresholds for one gauge,
// in the same unit as the gauge's gage height readings. Any stage may be nil.
type FloodStages struct {
	GaugeID  string
	Action   *float64
	Minor    *float64
	Moderate *float64
	Major    *float64
}

// Empty reports whether no stage is known.
func (f FloodStages) Empty() bool {
	return f.Action == nil && f.Minor == nil && f.Moderate == nil && f.Major == nil
}

// Source is the interface that every observation source implements.
//
// Both calls are synchronous and must respect context cancellation and
// deadlines. Failures are returned as *FetchError so callers can tell a
// missing gauge from an empty range or a transient network fault.
type Source interface {
	// FetchHistory returns the daily mean discharge series from start to today.
	FetchHistory(ctx context.Context, gaugeID string, start time.Time) (*DailySeries, error)

	// FetchInstantaneous returns the most recent reading for the gauge.
	FetchInstantaneous(ctx context.Context, gaugeID string) (*Reading, error)

	// Name returns a short identifier such as "usgs" or "fixture".
	Name() string
}

// Lister enumerates the gauges belonging to a partition.
type Lister interface {
	ListGauges(ctx context.Context, partition string) ([]Gauge, error)
}

// missingCode is the sentinel USGS uses for ice-affected or missing values.
const missingCode = -999999

// usable filters live readings that cannot be classified: the missing code
// and non-positive values.
func usable(v float64) bool {
	return v > 0 && v != missingCode
}

// recorded filters daily history values. Zero flow is a real observation for
// intermittent streams and stays in the series.
func recorded(v float64) bool {
	return v != missingCode && !math.IsNaN(v)
}

func ptr(v float64) *float64 { return &v }
