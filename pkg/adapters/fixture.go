package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FixtureAdapter replays NWIS JSON documents from a local directory. It
// expects Dir/dv/<gauge>.json for history and Dir/iv/<gauge>.json for
// current readings, in the same format the NWIS services return.
//
// It is used for offline runs and reproducible end-to-end checks.
type FixtureAdapter struct {
	Dir string
}

func (f *FixtureAdapter) Name() string { return "fixture" }

// FetchHistory implements Source. The start date filters the replayed series.
func (f *FixtureAdapter) FetchHistory(ctx context.Context, gaugeID string, start time.Time) (*DailySeries, error) {
	body, err := f.read(ctx, "dv", gaugeID)
	if err != nil {
		return nil, err
	}
	series, err := parseDaily(gaugeID, body)
	if err != nil {
		return nil, err
	}

	kept := series.Values[:0]
	for _, v := range series.Values {
		if !v.Date.Before(start) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return nil, fetchErr(gaugeID, NoDataInRange, fmt.Errorf("no values since %s", start.Format("2006-01-02")))
	}
	series.Values = kept
	return series, nil
}

// FetchInstantaneous implements Source.
func (f *FixtureAdapter) FetchInstantaneous(ctx context.Context, gaugeID string) (*Reading, error) {
	body, err := f.read(ctx, "iv", gaugeID)
	if err != nil {
		return nil, err
	}
	return parseInstantaneous(gaugeID, body)
}

func (f *FixtureAdapter) read(ctx context.Context, service, gaugeID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchErr(gaugeID, TransientNetwork, err)
	}
	if gaugeID == "" || filepath.Base(gaugeID) != gaugeID {
		return nil, fetchErr(gaugeID, NoSuchGauge, errors.New("invalid gauge identifier"))
	}

	body, err := os.ReadFile(filepath.Join(f.Dir, service, gaugeID+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fetchErr(gaugeID, NoSuchGauge, err)
		}
		return nil, fetchErr(gaugeID, TransientNetwork, err)
	}
	return body, nil
}
