package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/reference"
)

// Thresholds runs the flood-stage pass: fetch NWS flood categories for every
// gauge and publish them as one table. Gauges that NWS does not know, or
// that have no stages defined, are skipped rather than failed.
func (o *Orchestrator) Thresholds(ctx context.Context, gauges []adapters.Gauge) (*Report, error) {
	if o.cfg.FloodSource == nil {
		return nil, errors.New("fleet: flood stage source is required for the thresholds pass")
	}
	gauges = o.dedupe(gauges)
	report := o.newReport(ModeThresholds, gauges)
	o.logger.Info("starting thresholds pass", "run_id", report.RunID, "gauges", len(gauges))

	outcomes := o.fanOut(ctx, gauges, o.thresholdGauge)
	o.recordFailures(report, outcomes)

	var stages []adapters.FloodStages
	skipped := 0
	for _, out := range outcomes {
		switch {
		case out.state != Computed:
		case out.skipped:
			skipped++
		default:
			stages = append(stages, *out.stages)
		}
	}
	report.Succeeded = len(stages) + skipped

	table := reference.NewFloodStageTable(stages, o.clock.Now().UTC())
	switch {
	case o.cfg.DryRun:
		o.logger.Info("dry run, not publishing flood stages", "gauges", table.Len())
	case table.Len() == 0:
		o.logger.Warn("no flood stages fetched, keeping previous artifact")
	default:
		if err := reference.PublishFloodStages(ctx, o.cfg.Store, table); err != nil {
			o.recordArtifactFailure(report, reference.FloodStagesKey, err)
			break
		}
		for i := range outcomes {
			if outcomes[i].state == Computed {
				outcomes[i].state = Recorded
			}
		}
		report.Published = append(report.Published, reference.FloodStagesKey)
		o.logger.Info("published flood stages", "gauges", table.Len(), "skipped", skipped)
	}

	o.recordOutcomes(report.Mode, outcomes)
	return o.finish(report), nil
}

func (o *Orchestrator) thresholdGauge(ctx context.Context, gauge adapters.Gauge) outcome {
	out := outcome{gauge: gauge, state: Fetching}

	var stages *adapters.FloodStages
	err := o.fetch(ctx, ModeThresholds, func(ctx context.Context) error {
		var err error
		stages, err = o.cfg.FloodSource.FetchFloodStages(ctx, gauge.ID)
		return err
	})
	switch {
	case errors.Is(err, adapters.ErrNoSuchGauge), errors.Is(err, adapters.ErrNoDataInRange):
		o.logger.Debug("no flood stages for gauge", "gauge_id", gauge.ID, "reason", err)
		out.state, out.skipped = Computed, true
		return out
	case err != nil:
		out.state, out.err = FetchFailed, err
		return out
	case stages == nil:
		out.state, out.err = ComputeFailed, fmt.Errorf("flood stages for %s: empty response", gauge.ID)
		return out
	}

	stages.GaugeID = gauge.ID
	out.state, out.stages = Computed, stages
	return out
}
