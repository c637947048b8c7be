package reference

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// PartitionTable is the set of gauge tables for one partition. It is built
// once by Aggregate or Decode and then only read, so a single instance can be
// shared by every live-pass worker.
type PartitionTable struct {
	Partition   string
	GeneratedAt time.Time
	Ranks       []float64
	tables      map[string]*Table
}

// Aggregate merges per-gauge tables into a partition table. It performs no
// recomputation. A gauge identifier appearing twice yields
// *DuplicateGaugeError; tables built with different rank sets are rejected.
func Aggregate(partition string, tables []*Table) (*PartitionTable, error) {
	pt := &PartitionTable{
		Partition: partition,
		tables:    make(map[string]*Table, len(tables)),
	}

	for i, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("partition %s: table %d is nil", partition, i)
		}
		if _, dup := pt.tables[t.GaugeID]; dup {
			return nil, &DuplicateGaugeError{Partition: partition, GaugeID: t.GaugeID}
		}
		if pt.Ranks == nil {
			pt.Ranks = slices.Clone(t.Ranks)
		} else if !slices.Equal(pt.Ranks, t.Ranks) {
			return nil, fmt.Errorf("partition %s: gauge %s built with ranks %v, want %v", partition, t.GaugeID, t.Ranks, pt.Ranks)
		}
		pt.tables[t.GaugeID] = t
	}
	return pt, nil
}

// Lookup returns the table for a gauge.
func (p *PartitionTable) Lookup(gaugeID string) (*Table, bool) {
	if p == nil {
		return nil, false
	}
	t, ok := p.tables[gaugeID]
	return t, ok
}

// Len returns the number of gauges in the partition.
func (p *PartitionTable) Len() int {
	if p == nil {
		return 0
	}
	return len(p.tables)
}

// GaugeIDs returns the partition's gauge identifiers in ascending order.
func (p *PartitionTable) GaugeIDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, 0, len(p.tables))
	for id := range p.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
