package reference

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/HatiCode/hydrastral/pkg/adapters"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func val(v float64) *float64 { return &v }

func TestRankValue(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"single value", []float64{7}, 90, 7},
		{"min at rank 0", []float64{10, 20, 30, 40, 50}, 0, 10},
		{"max at rank 100", []float64{10, 20, 30, 40, 50}, 100, 50},
		{"median odd", []float64{10, 20, 30, 40, 50}, 50, 30},
		{"exact position", []float64{10, 20, 30, 40, 50}, 25, 20},
		{"interpolated", []float64{10, 20, 30, 40, 50}, 10, 14},
		{"median even", []float64{1, 2, 3, 4}, 50, 2.5},
		{"p90 of four", []float64{1, 2, 3, 4}, 90, 3.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RankValue(tt.sorted, tt.p)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("RankValue(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestRankValue_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(60)
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.Float64() * 1e4
		}
		sort.Float64s(values)

		if got := RankValue(values, 0); got != values[0] {
			t.Fatalf("rank 0 = %v, want min %v", got, values[0])
		}
		if got := RankValue(values, 100); got != values[n-1] {
			t.Fatalf("rank 100 = %v, want max %v", got, values[n-1])
		}

		prev := RankValue(values, 0)
		for p := 0.5; p <= 100; p += 0.5 {
			cur := RankValue(values, p)
			if cur < prev {
				t.Fatalf("not monotonic: rank %v = %v < %v", p, cur, prev)
			}
			prev = cur
		}
	}
}

func TestBuilder_FiveYearScenario(t *testing.T) {
	series := adapters.DailySeries{GaugeID: "01646500"}
	for i, v := range []float64{10, 20, 30, 40, 50} {
		series.Values = append(series.Values, adapters.DailyValue{Date: day(2001+i, time.January, 1), Value: val(v)})
	}

	b, err := NewBuilder(nil)
	if err != nil {
		t.Fatal(err)
	}
	table, err := b.Build(series)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}

	row, ok := table.Row(1)
	if !ok {
		t.Fatal("row 1 missing")
	}
	if row.SampleSize != 5 {
		t.Errorf("SampleSize = %d, want 5", row.SampleSize)
	}
	if v, ok := row.Value(50); !ok || v != 30 {
		t.Errorf("rank 50 = %v (valid=%v), want 30", v, ok)
	}
	if v, _ := row.Value(0); v != 10 {
		t.Errorf("rank 0 = %v, want 10", v)
	}
	if v, _ := row.Value(100); v != 50 {
		t.Errorf("rank 100 = %v, want 50", v)
	}

	for d := 2; d <= DaysInYear; d++ {
		r, _ := table.Row(d)
		if !r.Insufficient() {
			t.Fatalf("day %d should be insufficient", d)
		}
		if len(r.Thresholds) != len(DefaultRanks) {
			t.Fatalf("day %d: expected a marker per rank, got %d", d, len(r.Thresholds))
		}
	}
}

func TestBuilder_EveryDayPresentAndOrdered(t *testing.T) {
	series := adapters.DailySeries{GaugeID: "g"}
	rng := rand.New(rand.NewSource(7))
	for d := day(2000, time.January, 1); d.Year() < 2004; d = d.AddDate(0, 0, 1) {
		series.Values = append(series.Values, adapters.DailyValue{Date: d, Value: val(rng.Float64() * 500)})
	}

	b, _ := NewBuilder(nil)
	table, err := b.Build(series)
	if err != nil {
		t.Fatal(err)
	}

	for i, row := range table.Days {
		if row.Day != i+1 {
			t.Fatalf("Days[%d].Day = %d", i, row.Day)
		}
		if row.Insufficient() {
			t.Fatalf("day %d unexpectedly insufficient", row.Day)
		}
		for j := 1; j < len(row.Thresholds); j++ {
			if row.Thresholds[j].Value < row.Thresholds[j-1].Value {
				t.Fatalf("day %d: thresholds decrease at rank %v", row.Day, row.Thresholds[j].Rank)
			}
		}
	}

	// Only 2000 is a leap year in range: day 366 has one sample, the rest four.
	if r, _ := table.Row(366); r.SampleSize != 1 {
		t.Errorf("day 366 SampleSize = %d, want 1", r.SampleSize)
	}
	if r, _ := table.Row(60); r.SampleSize != 4 {
		t.Errorf("day 60 SampleSize = %d, want 4", r.SampleSize)
	}
}

func TestBuilder_NoLeapData(t *testing.T) {
	series := adapters.DailySeries{GaugeID: "g", Values: []adapters.DailyValue{
		{Date: day(2001, time.December, 31), Value: val(5)},
	}}
	b, _ := NewBuilder(nil)
	table, err := b.Build(series)
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := table.Row(365); r.Insufficient() {
		t.Error("day 365 should hold the 31 December value")
	}
	if r, _ := table.Row(366); !r.Insufficient() {
		t.Error("day 366 should be insufficient without leap years")
	}
}

func TestBuilder_InsufficientHistory(t *testing.T) {
	b, _ := NewBuilder(nil)

	tests := map[string]adapters.DailySeries{
		"empty":       {GaugeID: "empty"},
		"all missing": {GaugeID: "gaps", Values: []adapters.DailyValue{{Date: day(2001, 1, 1)}, {Date: day(2001, 1, 2)}}},
	}
	for name, series := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := b.Build(series)
			var ihe *InsufficientHistoryError
			if !errors.As(err, &ihe) {
				t.Fatalf("error = %v, want InsufficientHistoryError", err)
			}
			if ihe.GaugeID != series.GaugeID {
				t.Errorf("GaugeID = %s, want %s", ihe.GaugeID, series.GaugeID)
			}
		})
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	series := adapters.DailySeries{GaugeID: "g"}
	rng := rand.New(rand.NewSource(99))
	for d := day(1990, time.March, 3); d.Year() < 2000; d = d.AddDate(0, 0, 1) {
		dv := adapters.DailyValue{Date: d}
		if rng.Intn(10) > 0 {
			dv.Value = val(rng.ExpFloat64() * 100)
		}
		series.Values = append(series.Values, dv)
	}

	b, _ := NewBuilder([]float64{0, 10, 25, 50, 75, 90, 100})
	first, err := b.Build(series)
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Build(series)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different tables")
	}
}

func TestNewBuilder_RejectsIncompleteRanks(t *testing.T) {
	if _, err := NewBuilder([]float64{5, 50, 95}); err == nil {
		t.Error("expected error for rank set missing required ranks")
	}
	b, err := NewBuilder([]float64{100, 0, 50, 10, 90, 25, 75})
	if err != nil {
		t.Fatalf("unsorted but complete rank set rejected: %v", err)
	}
	if got := b.Ranks(); !sort.Float64sAreSorted(got) {
		t.Errorf("Ranks() not sorted: %v", got)
	}
}
