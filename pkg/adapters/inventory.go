package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// inventoryFile is the on-disk shape of a gauge inventory:
//
//	gauges:
//	  - id: "01646500"
//	    partition: MD
//	    name: POTOMAC RIVER NEAR WASH, DC LITTLE FALLS PUMP STA
//	    lat: 38.94977778
//	    lon: -77.12763889
type inventoryFile struct {
	Gauges []Gauge `yaml:"gauges"`
}

// FileInventory serves gauges from a YAML inventory loaded once.
type FileInventory struct {
	gauges []Gauge
}

// LoadInventory reads and validates a YAML inventory. Partition keys are
// upper-cased. Duplicate identifiers are kept: deciding what a duplicate
// means is left to the consumer.
func LoadInventory(path string) (*FileInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory decodes a YAML inventory document.
func ParseInventory(data []byte) (*FileInventory, error) {
	var doc inventoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}

	for i := range doc.Gauges {
		g := &doc.Gauges[i]
		g.ID = strings.TrimSpace(g.ID)
		g.Partition = strings.ToUpper(strings.TrimSpace(g.Partition))
		if g.ID == "" {
			return nil, fmt.Errorf("inventory entry %d: id is required", i)
		}
		if g.Partition == "" {
			return nil, fmt.Errorf("inventory entry %d (%s): partition is required", i, g.ID)
		}
	}
	return &FileInventory{gauges: doc.Gauges}, nil
}

// ListGauges implements Lister. An empty partition returns every gauge.
func (f *FileInventory) ListGauges(_ context.Context, partition string) ([]Gauge, error) {
	partition = strings.ToUpper(partition)
	out := make([]Gauge, 0, len(f.gauges))
	for _, g := range f.gauges {
		if partition == "" || g.Partition == partition {
			out = append(out, g)
		}
	}
	return out, nil
}

// Partitions returns the distinct partition keys in inventory order.
func (f *FileInventory) Partitions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range f.gauges {
		if !seen[g.Partition] {
			seen[g.Partition] = true
			out = append(out, g.Partition)
		}
	}
	return out
}

// parseSiteRDB decodes the tab-separated RDB format returned by the NWIS site
// service: '#' comment lines, a header row, a column-width row, then data.
func parseSiteRDB(partition string, body []byte) ([]Gauge, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = '\t'
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rdb header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	idIdx, ok := col["site_no"]
	if !ok {
		return nil, errors.New("rdb response has no site_no column")
	}

	// Column-width row, e.g. "5s 15s 50s".
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rdb format row: %w", err)
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var gauges []Gauge
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rdb row: %w", err)
		}
		if idIdx >= len(rec) || strings.TrimSpace(rec[idIdx]) == "" {
			continue
		}
		g := Gauge{
			ID:        strings.TrimSpace(rec[idIdx]),
			Partition: strings.ToUpper(partition),
			Name:      field(rec, "station_nm"),
		}
		g.Lat, _ = strconv.ParseFloat(field(rec, "dec_lat_va"), 64)
		g.Lon, _ = strconv.ParseFloat(field(rec, "dec_long_va"), 64)
		gauges = append(gauges, g)
	}
	return gauges, nil
}
