package fleet

import (
	"context"
	"sort"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/reference"
)

// Build runs the reference pass: fetch each gauge's full daily history,
// build its day-of-year table, then merge and publish one table per
// partition.
//
// Gauges that fail to fetch or have no history are recorded in the ledger
// and left out of their partition. A partition whose merge or publish fails
// keeps its previously published table.
func (o *Orchestrator) Build(ctx context.Context, gauges []adapters.Gauge) (*Report, error) {
	report := o.newReport(ModeBuild, gauges)
	o.logger.Info("starting build pass",
		"run_id", report.RunID,
		"gauges", len(gauges),
		"partitions", report.Partitions,
		"history_start", o.cfg.HistoryStart.Format("2006-01-02"),
		"workers", o.cfg.Workers,
	)

	outcomes := o.fanOut(ctx, gauges, o.buildGauge)
	o.recordFailures(report, outcomes)

	byPartition := make(map[string][]int)
	for i, out := range outcomes {
		if out.state == Computed {
			report.Succeeded++
			byPartition[out.gauge.Partition] = append(byPartition[out.gauge.Partition], i)
		}
	}

	for _, partition := range report.Partitions {
		idx := byPartition[partition]
		if len(idx) == 0 {
			o.logger.Warn("no gauge tables for partition, keeping previous artifact",
				"run_id", report.RunID, "partition", partition)
			continue
		}
		tables := make([]*reference.Table, len(idx))
		for j, i := range idx {
			tables[j] = outcomes[i].table
		}

		key := reference.PartitionKey(partition)
		pt, err := reference.Aggregate(partition, tables)
		if err != nil {
			o.recordArtifactFailure(report, key, err)
			continue
		}
		pt.GeneratedAt = o.clock.Now().UTC()

		if o.cfg.DryRun {
			o.logger.Info("dry run, not publishing partition", "partition", partition, "gauges", pt.Len())
			continue
		}
		if err := reference.Publish(ctx, o.cfg.Store, pt); err != nil {
			o.recordArtifactFailure(report, key, err)
			continue
		}
		for _, i := range idx {
			outcomes[i].state = Recorded
		}
		report.Published = append(report.Published, key)
		o.logger.Info("published partition table",
			"run_id", report.RunID, "partition", partition, "gauges", pt.Len(), "key", key)
	}

	sort.Strings(report.Published)
	o.recordOutcomes(report.Mode, outcomes)
	return o.finish(report), nil
}

func (o *Orchestrator) buildGauge(ctx context.Context, gauge adapters.Gauge) outcome {
	out := outcome{gauge: gauge, state: Fetching}

	var series *adapters.DailySeries
	err := o.fetch(ctx, ModeBuild, func(ctx context.Context) error {
		var err error
		series, err = o.cfg.Source.FetchHistory(ctx, gauge.ID, o.cfg.HistoryStart)
		return err
	})
	if err != nil {
		out.state, out.err = FetchFailed, err
		return out
	}

	table, err := o.cfg.Builder.Build(*series)
	if err != nil {
		out.state, out.err = ComputeFailed, err
		return out
	}
	// Tables are keyed by the inventory's gauge ID, whatever the upstream
	// echoed back.
	table.GaugeID = gauge.ID

	o.logger.Debug("built gauge table",
		"gauge_id", gauge.ID, "partition", gauge.Partition, "days", len(series.Values), "observed", series.Observed())
	out.state, out.table = Computed, table
	return out
}
