// Package reference builds and persists per-gauge historical reference data.
//
// A [Table] maps each day-of-year (1–366) to an ordered set of percentile
// thresholds of mean daily discharge. Tables are produced by a [Builder] from
// one gauge's full daily record, merged per partition by [Aggregate], and
// published as one columnar artifact per partition. Published artifacts are
// replaced wholesale by the next build and are read-only to the live pass.
//
// The package also persists the NWS flood-stage table used as auxiliary data
// by the live classifier.
package reference

// DaysInYear is the number of day-of-year buckets, including the leap day.
const DaysInYear = 366

// Threshold is one (rank, value) pair in a day row. Valid is false when the
// day had no observations, in which case Value carries no meaning.
type Threshold struct {
	Rank  float64
	Value float64
	Valid bool
}

// DayRow holds the thresholds of one day-of-year, ordered by ascending rank.
// Values are non-decreasing in rank.
type DayRow struct {
	Day        int
	SampleSize int
	Thresholds []Threshold
}

// Insufficient reports whether no threshold in the row carries a value.
func (r DayRow) Insufficient() bool {
	for _, th := range r.Thresholds {
		if th.Valid {
			return false
		}
	}
	return true
}

// Value returns the threshold for rank, if present and valid.
func (r DayRow) Value(rank float64) (float64, bool) {
	for _, th := range r.Thresholds {
		if th.Rank == rank {
			return th.Value, th.Valid
		}
	}
	return 0, false
}

// Table is the day-of-year percentile table for one gauge. Every day 1..366
// is present; days without observations are marked insufficient rather
// than omitted. A Table is immutable once built.
type Table struct {
	GaugeID string
	Ranks   []float64
	Days    [DaysInYear]DayRow
}

// Row returns the row for day-of-year doy. ok is false when doy is outside
// 1..366.
func (t *Table) Row(doy int) (DayRow, bool) {
	if t == nil || doy < 1 || doy > DaysInYear {
		return DayRow{}, false
	}
	return t.Days[doy-1], true
}

// insufficientRow returns a row with every rank marked insufficient.
func insufficientRow(day int, ranks []float64) DayRow {
	row := DayRow{Day: day, Thresholds: make([]Threshold, len(ranks))}
	for i, r := range ranks {
		row.Thresholds[i] = Threshold{Rank: r}
	}
	return row
}
