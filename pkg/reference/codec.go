package reference

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
)

// tableRow is the columnar layout of a partition table: one row per gauge
// and day-of-year. Insufficient days have sample_size 0 and empty lists.
type tableRow struct {
	GaugeID     string    `parquet:"site_id,dict"`
	DayOfYear   int32     `parquet:"day_of_year"`
	SampleSize  int32     `parquet:"sample_size"`
	Ranks       []float64 `parquet:"ranks,list"`
	Thresholds  []float64 `parquet:"thresholds,list"`
	GeneratedAt int64     `parquet:"generated_at_ms"`
}

// Encode serializes a partition table to parquet. Rows are ordered by gauge
// then day-of-year, so equal tables encode to equal bytes.
func Encode(pt *PartitionTable) ([]byte, error) {
	ids := pt.GaugeIDs()
	rows := make([]tableRow, 0, len(ids)*DaysInYear)
	generated := pt.GeneratedAt.UnixMilli()

	for _, id := range ids {
		t := pt.tables[id]
		for _, day := range t.Days {
			row := tableRow{
				GaugeID:     id,
				DayOfYear:   int32(day.Day),
				SampleSize:  int32(day.SampleSize),
				Ranks:       slices.Clone(t.Ranks),
				GeneratedAt: generated,
			}
			if !day.Insufficient() {
				row.Thresholds = make([]float64, len(day.Thresholds))
				for i, th := range day.Thresholds {
					row.Thresholds[i] = th.Value
				}
			}
			rows = append(rows, row)
		}
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode partition %s: %w", pt.Partition, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a partition table written by Encode. Days missing from the
// file are restored as insufficient so every table covers 1..366.
func Decode(partition string, data []byte) (*PartitionTable, error) {
	rows, err := parquet.Read[tableRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", partition, err)
	}

	pt := &PartitionTable{Partition: partition, tables: make(map[string]*Table)}
	seen := make(map[string]*[DaysInYear]bool)

	for i, r := range rows {
		if r.DayOfYear < 1 || r.DayOfYear > DaysInYear {
			return nil, fmt.Errorf("decode partition %s: row %d: day_of_year %d out of range", partition, i, r.DayOfYear)
		}
		if pt.Ranks == nil {
			pt.Ranks = slices.Clone(r.Ranks)
			pt.GeneratedAt = time.UnixMilli(r.GeneratedAt).UTC()
		} else if !slices.Equal(pt.Ranks, r.Ranks) {
			return nil, fmt.Errorf("decode partition %s: row %d: inconsistent rank set", partition, i)
		}

		t, ok := pt.tables[r.GaugeID]
		if !ok {
			t = &Table{GaugeID: r.GaugeID, Ranks: pt.Ranks}
			pt.tables[r.GaugeID] = t
			seen[r.GaugeID] = new([DaysInYear]bool)
		}

		day := int(r.DayOfYear)
		if seen[r.GaugeID][day-1] {
			return nil, fmt.Errorf("decode partition %s: gauge %s day %d repeated", partition, r.GaugeID, day)
		}
		seen[r.GaugeID][day-1] = true

		if r.SampleSize == 0 || len(r.Thresholds) == 0 {
			t.Days[day-1] = insufficientRow(day, pt.Ranks)
			continue
		}
		if len(r.Thresholds) != len(pt.Ranks) {
			return nil, fmt.Errorf("decode partition %s: gauge %s day %d: %d thresholds for %d ranks",
				partition, r.GaugeID, day, len(r.Thresholds), len(pt.Ranks))
		}
		if !sort.Float64sAreSorted(r.Thresholds) {
			return nil, fmt.Errorf("decode partition %s: gauge %s day %d: thresholds decrease", partition, r.GaugeID, day)
		}
		row := DayRow{Day: day, SampleSize: int(r.SampleSize), Thresholds: make([]Threshold, len(pt.Ranks))}
		for j, rank := range pt.Ranks {
			row.Thresholds[j] = Threshold{Rank: rank, Value: r.Thresholds[j], Valid: true}
		}
		t.Days[day-1] = row
	}

	for id, days := range seen {
		t := pt.tables[id]
		for i, ok := range days {
			if !ok {
				t.Days[i] = insufficientRow(i+1, pt.Ranks)
			}
		}
	}
	return pt, nil
}
