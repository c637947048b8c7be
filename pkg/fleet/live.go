package fleet

import (
	"context"
	"errors"
	"slices"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/classify"
	"github.com/HatiCode/hydrastral/pkg/objectstore"
	"github.com/HatiCode/hydrastral/pkg/reference"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
	"github.com/HatiCode/hydrastral/pkg/trend"
)

// liveInputs is the read-only data shared by every live task.
type liveInputs struct {
	tables  map[string]*reference.PartitionTable
	stages  *reference.FloodStageTable
	history map[string][]trend.Point
}

// Live runs the live pass: fetch each gauge's latest reading, classify it
// against its partition's published table, and publish one fleet snapshot.
//
// A gauge whose partition has no published table, or whose table has no
// entry for it, classifies as "No Data". Failed gauges are omitted from the
// snapshot and listed in its failures object and in the ledger.
func (o *Orchestrator) Live(ctx context.Context, gauges []adapters.Gauge) (*Report, error) {
	gauges = o.dedupe(gauges)
	report := o.newReport(ModeLive, gauges)
	o.logger.Info("starting live pass",
		"run_id", report.RunID,
		"gauges", len(gauges),
		"partitions", report.Partitions,
		"workers", o.cfg.Workers,
	)

	in := o.loadLiveInputs(ctx, report)
	outcomes := o.fanOut(ctx, gauges, func(ctx context.Context, gauge adapters.Gauge) outcome {
		return o.liveGauge(ctx, gauge, in)
	})
	o.recordFailures(report, outcomes)

	results := make([]classify.Result, 0, len(outcomes))
	for _, out := range outcomes {
		if out.state == Computed {
			results = append(results, out.result)
		}
	}
	report.Succeeded = len(results)

	snap := snapshot.New(o.clock.Now(), results, report.Ledger.Reasons())
	report.Snapshot = &snap
	if o.cfg.Recorder != nil {
		o.cfg.Recorder.RecordSnapshot(snap.SiteCount)
	}

	if o.cfg.DryRun {
		o.logger.Info("dry run, not publishing snapshot", "site_count", snap.SiteCount)
	} else if err := o.cfg.Publisher.Publish(ctx, snap); err != nil {
		o.recordArtifactFailure(report, snapshot.CurrentKey, err)
	} else {
		for i := range outcomes {
			if outcomes[i].state == Computed {
				outcomes[i].state = Recorded
			}
		}
		report.Published = append(report.Published, snapshot.CurrentKey)
	}

	o.recordOutcomes(report.Mode, outcomes)
	return o.finish(report), nil
}

// dedupe keeps the first occurrence of each gauge ID.
func (o *Orchestrator) dedupe(gauges []adapters.Gauge) []adapters.Gauge {
	seen := make(map[string]struct{}, len(gauges))
	out := make([]adapters.Gauge, 0, len(gauges))
	for _, g := range gauges {
		if _, ok := seen[g.ID]; ok {
			o.logger.Warn("duplicate gauge in inventory, keeping first", "gauge_id", g.ID, "partition", g.Partition)
			continue
		}
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	return out
}

// loadLiveInputs reads every partition table once, then the optional flood
// stages and trend history. Missing auxiliary data is not an error.
func (o *Orchestrator) loadLiveInputs(ctx context.Context, report *Report) liveInputs {
	in := liveInputs{tables: make(map[string]*reference.PartitionTable, len(report.Partitions))}

	for _, partition := range report.Partitions {
		pt, err := reference.Load(ctx, o.cfg.Store, partition)
		switch {
		case errors.Is(err, objectstore.ErrNotFound):
			o.logger.Warn("no reference table for partition, gauges will classify as No Data", "partition", partition)
		case err != nil:
			o.recordArtifactFailure(report, reference.PartitionKey(partition), err)
		default:
			in.tables[partition] = pt
			o.logger.Debug("loaded reference table", "partition", partition, "gauges", pt.Len())
		}
	}

	stages, err := reference.LoadFloodStages(ctx, o.cfg.Store)
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
		o.logger.Debug("no flood stage table published")
	case err != nil:
		o.logger.Warn("failed to load flood stages, flood status disabled", "error", err)
		o.recordError("flood_stages", "load_failed")
	default:
		in.stages = stages
	}

	if o.cfg.TrendWindow > 0 {
		since := o.clock.Now().Add(-o.cfg.TrendWindow)
		history, err := snapshot.LoadHistory(ctx, o.cfg.Store, since, o.logger)
		if err != nil {
			o.logger.Warn("failed to load snapshot history, trends disabled", "error", err)
			o.recordError("trend", "history_failed")
		} else {
			in.history = history
		}
	}
	return in
}

func (o *Orchestrator) liveGauge(ctx context.Context, gauge adapters.Gauge, in liveInputs) outcome {
	out := outcome{gauge: gauge, state: Fetching}

	var reading *adapters.Reading
	err := o.fetch(ctx, ModeLive, func(ctx context.Context) error {
		var err error
		reading, err = o.cfg.Source.FetchInstantaneous(ctx, gauge.ID)
		return err
	})
	if err != nil {
		out.state, out.err = FetchFailed, err
		return out
	}
	reading.GaugeID = gauge.ID

	now := o.clock.Now()
	doy := now.UTC().YearDay()
	if !reading.ObservedAt.IsZero() {
		doy = reading.ObservedAt.YearDay()
	}

	table, _ := in.tables[gauge.Partition].Lookup(gauge.ID)
	stages, _ := in.stages.Lookup(gauge.ID)
	res := o.cfg.Classifier.Classify(*reading, table, doy, stages)
	res.Partition = gauge.Partition

	if in.history != nil && reading.Discharge != nil {
		points := append(slices.Clone(in.history[gauge.ID]), trend.Point{At: now, Flow: *reading.Discharge})
		t := o.cfg.Trend.Detect(points)
		res.Trend = t.Trend
		if t.Trend != trend.Unknown {
			r := t.Rate
			res.TrendRate = &r
		}
		res.HoursSincePeak = t.HoursSincePeak
	}

	o.logger.Debug("classified gauge",
		"gauge_id", gauge.ID, "partition", gauge.Partition, "flow_status", res.FlowStatus, "doy", doy)
	out.state, out.result = Computed, res
	return out
}

func (o *Orchestrator) recordError(component, reason string) {
	if o.cfg.Recorder != nil {
		o.cfg.Recorder.RecordError(component, reason)
	}
}
