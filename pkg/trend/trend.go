// Package trend classifies a gauge's recent flow history as a rising or
// falling limb.
//
// Flows are normalized against their median and fit with ordinary least
// squares over elapsed hours. The fitted slope is the rate in percent per
// hour; rate × span is the total change that drives the classification.
package trend

import (
	"math"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend labels.
const (
	Rising  = "rising"
	Falling = "falling"
	Stable  = "stable"
	Unknown = "unknown"
)

// Point is one flow observation.
type Point struct {
	At   time.Time
	Flow float64
}

// Result is the trend of one gauge.
type Result struct {
	Trend string
	// Rate is the fitted change in percent of median flow per hour.
	Rate float64
	// HoursSincePeak is set only for falling trends whose peak is more than
	// half an hour old.
	HoursSincePeak *float64
	Points         int
}

// Detector holds the classification thresholds.
type Detector struct {
	// RisingThreshold is the minimum total change, in percent, for Rising.
	RisingThreshold float64
	// FallingThreshold is the maximum total change, in percent, for Falling.
	FallingThreshold float64
	// MinPoints is the minimum number of observations to fit.
	MinPoints int
}

// DefaultDetector returns the ±5% detector requiring four points.
func DefaultDetector() Detector {
	return Detector{RisingThreshold: 5, FallingThreshold: -5, MinPoints: 4}
}

const (
	minSpanHours  = 0.1
	peakMinHours  = 0.5
	flatTolerance = 1e-10
)

// Detect classifies points. The input need not be sorted.
func (d Detector) Detect(points []Point) Result {
	res := Result{Trend: Unknown, Points: len(points)}
	minPoints := max(d.MinPoints, 2)
	if len(points) < minPoints {
		return res
	}

	pts := slices.Clone(points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].At.Before(pts[j].At) })

	flows := make([]float64, len(pts))
	for i, p := range pts {
		flows[i] = p.Flow
	}
	if stat.StdDev(flows, nil) < flatTolerance {
		res.Trend = Stable
		return res
	}

	start := pts[0].At
	hours := make([]float64, len(pts))
	for i, p := range pts {
		hours[i] = p.At.Sub(start).Hours()
	}
	span := hours[len(hours)-1]
	if span < minSpanHours {
		return res
	}

	sorted := slices.Clone(flows)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + median) / 2
	}
	if median < flatTolerance {
		return res
	}

	normalized := make([]float64, len(flows))
	for i, f := range flows {
		normalized[i] = (f - median) / median * 100
	}
	_, slope := stat.LinearRegression(hours, normalized, nil, false)
	res.Rate = round(slope, 3)

	total := slope * span
	switch {
	case total >= d.RisingThreshold:
		res.Trend = Rising
	case total <= d.FallingThreshold:
		res.Trend = Falling
		peak := 0
		for i, f := range flows {
			if f > flows[peak] {
				peak = i
			}
		}
		if since := pts[len(pts)-1].At.Sub(pts[peak].At).Hours(); since > peakMinHours {
			h := round(since, 1)
			res.HoursSincePeak = &h
		}
	default:
		res.Trend = Stable
	}
	return res
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
