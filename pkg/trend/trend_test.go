package trend

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func series(stepHours float64, flows ...float64) []Point {
	pts := make([]Point, len(flows))
	for i, f := range flows {
		pts[i] = Point{At: t0.Add(time.Duration(float64(i) * stepHours * float64(time.Hour))), Flow: f}
	}
	return pts
}

func TestDetect(t *testing.T) {
	d := DefaultDetector()

	tests := []struct {
		name   string
		points []Point
		want   string
	}{
		{"too few points", series(1, 10, 20, 30), Unknown},
		{"identical flows", series(1, 50, 50, 50, 50), Stable},
		{"span too short", series(0.01, 10, 20, 30, 40), Unknown},
		{"zero median", series(1, 0, 0, 0, 5), Unknown},
		{"rising", series(1, 100, 110, 120, 130, 140), Rising},
		{"falling", series(1, 140, 130, 120, 110, 100), Falling},
		{"noise", series(1, 100, 101, 99, 100, 101, 100), Stable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.points)
			if got.Trend != tt.want {
				t.Errorf("Trend = %q (rate %v), want %q", got.Trend, got.Rate, tt.want)
			}
			if got.Points != len(tt.points) {
				t.Errorf("Points = %d, want %d", got.Points, len(tt.points))
			}
		})
	}
}

func TestDetect_Rate(t *testing.T) {
	// Median 120; +10 per hour is 8.333% of the median per hour.
	got := DefaultDetector().Detect(series(1, 100, 110, 120, 130, 140))
	if got.Rate != 8.333 {
		t.Errorf("Rate = %v, want 8.333", got.Rate)
	}
	if got.HoursSincePeak != nil {
		t.Error("rising trend should not report hours since peak")
	}
}

func TestDetect_HoursSincePeak(t *testing.T) {
	got := DefaultDetector().Detect(series(2, 100, 200, 150, 120, 100))
	if got.Trend != Falling {
		t.Fatalf("Trend = %q, want falling", got.Trend)
	}
	if got.HoursSincePeak == nil || *got.HoursSincePeak != 6 {
		t.Errorf("HoursSincePeak = %v, want 6", got.HoursSincePeak)
	}
}

func TestDetect_UnsortedInput(t *testing.T) {
	pts := series(1, 140, 130, 120, 110, 100)
	shuffled := []Point{pts[3], pts[0], pts[4], pts[2], pts[1]}
	if got := DefaultDetector().Detect(shuffled); got.Trend != Falling {
		t.Errorf("Trend = %q, want falling", got.Trend)
	}
}
