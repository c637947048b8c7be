// Package snapshot defines the fleet-wide status document published by the
// live pass, and the publisher that writes it to the object store.
//
// The current document lives at CurrentKey and is replaced on every pass.
// Each published document is also archived under HistoryPrefix with a
// minute-resolution timestamp; archived copies are never overwritten.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/HatiCode/hydrastral/pkg/classify"
)

// Object keys.
const (
	CurrentKey    = "live_output/current_status.json"
	HistoryPrefix = "live_output/history/"
)

const archiveLayout = "2006-01-02T1504"

// Site is one gauge's entry in the document.
type Site struct {
	Flow          *float64 `json:"flow"`
	GageHeight    *float64 `json:"gage_height"`
	Percentile    *float64 `json:"percentile"`
	FlowStatus    string   `json:"flow_status"`
	DroughtStatus *string  `json:"drought_status"`
	FloodStatus   *string  `json:"flood_status"`
	State         string   `json:"state"`

	ObservedAt     *time.Time `json:"observed_at,omitempty"`
	Trend          string     `json:"trend,omitempty"`
	TrendRate      *float64   `json:"trend_rate,omitempty"`
	HoursSincePeak *float64   `json:"hours_since_peak,omitempty"`
}

// Snapshot is one consistent publication of the fleet's classifications.
// Failed gauges are absent from Sites and listed in Failures with a reason.
type Snapshot struct {
	GeneratedAt time.Time         `json:"generated_at"`
	SiteCount   int               `json:"site_count"`
	Sites       map[string]Site   `json:"sites"`
	Failures    map[string]string `json:"failures,omitempty"`
}

// New assembles a snapshot from classification results.
func New(generatedAt time.Time, results []classify.Result, failures map[string]string) Snapshot {
	s := Snapshot{
		GeneratedAt: generatedAt.UTC(),
		Sites:       make(map[string]Site, len(results)),
	}
	for _, r := range results {
		s.Sites[r.GaugeID] = siteFromResult(r)
	}
	s.SiteCount = len(s.Sites)
	if len(failures) > 0 {
		s.Failures = make(map[string]string, len(failures))
		for id, reason := range failures {
			s.Failures[id] = reason
		}
	}
	return s
}

func siteFromResult(r classify.Result) Site {
	site := Site{
		Flow:           r.Flow,
		GageHeight:     r.GageHeight,
		Percentile:     r.Percentile,
		FlowStatus:     r.FlowStatus,
		DroughtStatus:  r.DroughtStatus,
		FloodStatus:    r.FloodStatus,
		State:          r.Partition,
		Trend:          r.Trend,
		TrendRate:      r.TrendRate,
		HoursSincePeak: r.HoursSincePeak,
	}
	if !r.ObservedAt.IsZero() {
		at := r.ObservedAt.UTC()
		site.ObservedAt = &at
	}
	return site
}

// Encode renders the document. Site keys are emitted in sorted order.
func (s Snapshot) Encode() ([]byte, error) {
	if s.Sites == nil {
		s.Sites = map[string]Site{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a document produced by Encode.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Site returns one gauge's entry.
func (s Snapshot) Site(gaugeID string) (Site, bool) {
	site, ok := s.Sites[gaugeID]
	return site, ok
}

// ArchiveKey returns the archive key for a snapshot generated at t.
func ArchiveKey(t time.Time) string {
	return HistoryPrefix + t.UTC().Format(archiveLayout) + ".json"
}

// parseArchiveKey extracts the timestamp of an archive key.
func parseArchiveKey(key string) (time.Time, bool) {
	if len(key) <= len(HistoryPrefix)+len(".json") {
		return time.Time{}, false
	}
	name := key[len(HistoryPrefix) : len(key)-len(".json")]
	t, err := time.Parse(archiveLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
