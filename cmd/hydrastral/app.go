package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/HatiCode/hydrastral/cmd/hydrastral/config"
	"github.com/HatiCode/hydrastral/cmd/hydrastral/metrics"
	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/fleet"
	"github.com/HatiCode/hydrastral/pkg/objectstore"
	"github.com/HatiCode/hydrastral/pkg/passlog"
	"github.com/HatiCode/hydrastral/pkg/reference"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
)

// app holds everything a command needs, wired from configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   clockwork.Clock
	objects objectstore.Store
	lister  adapters.Lister
	orch    *fleet.Orchestrator
	metrics *metrics.Metrics
	passes  *passlog.Store
	closers []io.Closer
}

// newApp wires the object store, source, inventory, orchestrator and pass
// log. Any error here is a fatal setup error.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, clock clockwork.Clock) (*app, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	a := &app{cfg: cfg, logger: logger, clock: clock, metrics: metrics.New(reg)}

	objects, err := objectstore.New(ctx, objectstore.Config{
		Kind:            cfg.Store,
		Root:            cfg.StoreRoot,
		Bucket:          cfg.GCSBucket,
		Prefix:          cfg.GCSPrefix,
		CredentialsFile: cfg.GCSCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	a.objects = objects
	if c, ok := objects.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	source, err := adapters.New(cfg.Source, cfg.SourceConfig())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("source: %w", err)
	}

	if cfg.Inventory != "" {
		inv, err := adapters.LoadInventory(cfg.Inventory)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.lister = inv
	} else if l, ok := source.(adapters.Lister); ok {
		a.lister = l
	} else {
		a.Close()
		return nil, fmt.Errorf("source %s cannot list gauges; an inventory file is required", source.Name())
	}

	ranks, err := cfg.RankSet()
	if err != nil {
		a.Close()
		return nil, err
	}
	builder, err := reference.NewBuilder(ranks)
	if err != nil {
		a.Close()
		return nil, err
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		a.Close()
		return nil, err
	}
	historyStart, err := cfg.HistoryStartTime()
	if err != nil {
		a.Close()
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	a.orch, err = fleet.New(fleet.Config{
		Source:       source,
		Store:        objects,
		Builder:      builder,
		Classifier:   classifier,
		Publisher:    snapshot.NewPublisher(objects, cfg.Archive, logger),
		FloodSource:  &adapters.NWSAdapter{BaseURL: cfg.NWSURL, UserAgent: cfg.UserAgent},
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
		Limiter:      limiter,
		HistoryStart: historyStart,
		TrendWindow:  cfg.TrendWindow,
		DryRun:       cfg.DryRun,
		Clock:        clock,
		Logger:       logger,
		Recorder:     a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.PassLog != "" {
		passes, err := passlog.Open(ctx, cfg.PassLog)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.passes = passes
		a.closers = append(a.closers, passes)

		if cfg.PassLogRetention > 0 {
			n, err := passes.Prune(ctx, clock.Now().Add(-cfg.PassLogRetention))
			if err != nil {
				logger.Warn("failed to prune pass log", "error", err)
			} else if n > 0 {
				logger.Info("pruned pass log", "removed", n)
			}
		}
	}

	logger.Info("configuration loaded",
		"source", source.Name(),
		"store", cfg.Store,
		"partitions", cfg.PartitionList(),
		"workers", cfg.Workers,
		"archive", cfg.Archive,
		"trend_window", cfg.TrendWindow,
		"dry_run", cfg.DryRun,
		"pass_log", cfg.PassLog != "",
	)
	return a, nil
}

// gauges resolves the configured partitions against the inventory.
func (a *app) gauges(ctx context.Context) ([]adapters.Gauge, error) {
	gauges, err := fleet.ResolveGauges(ctx, a.lister, a.cfg.PartitionList())
	if err != nil {
		return nil, fmt.Errorf("resolve gauges: %w", err)
	}
	if len(gauges) == 0 {
		return nil, errors.New("resolve gauges: inventory has no gauges for the configured partitions")
	}
	return gauges, nil
}

// recordPass stores report in the pass log, if one is configured. A failure
// to record does not change the pass outcome.
func (a *app) recordPass(ctx context.Context, report *fleet.Report) {
	if a.passes == nil {
		return
	}
	if err := a.passes.Record(ctx, passEntry(report, a.cfg.DryRun)); err != nil {
		a.logger.Warn("failed to record pass", "run_id", report.RunID, "error", err)
		a.metrics.RecordError("passlog", "record_failed")
	}
}

// Close releases the pass log and object store.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func passEntry(report *fleet.Report, dryRun bool) passlog.Entry {
	e := passlog.Entry{
		RunID:            report.RunID,
		Mode:             report.Mode,
		Partitions:       report.Partitions,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
		Attempted:        report.Attempted,
		Succeeded:        report.Succeeded,
		Failed:           report.Ledger.Len(),
		ArtifactFailures: report.Ledger.Artifacts(),
		DryRun:           dryRun,
		ExitCode:         report.ExitCode(),
	}
	for _, f := range report.Ledger.Gauges() {
		e.Failures = append(e.Failures, passlog.Failure{
			GaugeID:   f.GaugeID,
			Partition: f.Partition,
			State:     f.State.String(),
			Kind:      f.Kind,
			Reason:    f.Reason,
		})
	}
	return e
}
