package reference

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/objectstore"
)

// FloodStagesKey is the object key of the published flood-stage table.
const FloodStagesKey = "flood_thresholds/data.parquet"

// FloodStageTable maps gauge identifiers to NWS flood stages.
type FloodStageTable struct {
	GeneratedAt time.Time
	stages      map[string]adapters.FloodStages
}

// NewFloodStageTable indexes stages by gauge. The first entry for a gauge wins.
func NewFloodStageTable(stages []adapters.FloodStages, generatedAt time.Time) *FloodStageTable {
	t := &FloodStageTable{GeneratedAt: generatedAt, stages: make(map[string]adapters.FloodStages, len(stages))}
	for _, s := range stages {
		if _, ok := t.stages[s.GaugeID]; !ok {
			t.stages[s.GaugeID] = s
		}
	}
	return t
}

// Lookup returns the stages for a gauge. A nil table has no entries.
func (t *FloodStageTable) Lookup(gaugeID string) (*adapters.FloodStages, bool) {
	if t == nil {
		return nil, false
	}
	s, ok := t.stages[gaugeID]
	if !ok {
		return nil, false
	}
	return &s, true
}

// Len returns the number of gauges with stages.
func (t *FloodStageTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.stages)
}

type floodRow struct {
	GaugeID     string   `parquet:"site_id"`
	Action      *float64 `parquet:"action_stage,optional"`
	Minor       *float64 `parquet:"flood_stage,optional"`
	Moderate    *float64 `parquet:"moderate_flood_stage,optional"`
	Major       *float64 `parquet:"major_flood_stage,optional"`
	GeneratedAt int64    `parquet:"generated_at_ms"`
}

// EncodeFloodStages serializes the table to parquet, ordered by gauge.
func EncodeFloodStages(t *FloodStageTable) ([]byte, error) {
	ids := make([]string, 0, len(t.stages))
	for id := range t.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]floodRow, 0, len(ids))
	for _, id := range ids {
		s := t.stages[id]
		rows = append(rows, floodRow{
			GaugeID:     id,
			Action:      s.Action,
			Minor:       s.Minor,
			Moderate:    s.Moderate,
			Major:       s.Major,
			GeneratedAt: t.GeneratedAt.UnixMilli(),
		})
	}

	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode flood stages: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFloodStages parses a table written by EncodeFloodStages.
func DecodeFloodStages(data []byte) (*FloodStageTable, error) {
	rows, err := parquet.Read[floodRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode flood stages: %w", err)
	}

	stages := make([]adapters.FloodStages, 0, len(rows))
	var generated time.Time
	for i, r := range rows {
		if i == 0 {
			generated = time.UnixMilli(r.GeneratedAt).UTC()
		}
		stages = append(stages, adapters.FloodStages{
			GaugeID:  r.GaugeID,
			Action:   r.Action,
			Minor:    r.Minor,
			Moderate: r.Moderate,
			Major:    r.Major,
		})
	}
	return NewFloodStageTable(stages, generated), nil
}

// PublishFloodStages replaces the published flood-stage table atomically.
func PublishFloodStages(ctx context.Context, store objectstore.Store, t *FloodStageTable) error {
	data, err := EncodeFloodStages(t)
	if err != nil {
		return err
	}
	return store.Put(ctx, FloodStagesKey, data)
}

// LoadFloodStages reads the published flood-stage table. A table that was
// never published yields an error matching objectstore.ErrNotFound.
func LoadFloodStages(ctx context.Context, store objectstore.Store) (*FloodStageTable, error) {
	data, err := store.Get(ctx, FloodStagesKey)
	if err != nil {
		return nil, fmt.Errorf("load flood stages: %w", err)
	}
	return DecodeFloodStages(data)
}
