// Package fleet drives the build, live and flood-threshold passes across the
// whole gauge fleet.
//
// Every pass follows the same shape:
//
//	fan out (bounded pool, one task per gauge) → barrier → reduce → publish
//
// Tasks share no mutable state. Each writes only its own outcome slot, and
// every cross-gauge step (ledger, partition merge, snapshot assembly) runs
// after all tasks have reached a terminal state. A per-gauge fetch timeout
// fails that gauge alone; sibling tasks are never cancelled.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/classify"
	"github.com/HatiCode/hydrastral/pkg/objectstore"
	"github.com/HatiCode/hydrastral/pkg/reference"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
	"github.com/HatiCode/hydrastral/pkg/trend"
)

// Pass modes.
const (
	ModeBuild      = "build"
	ModeLive       = "live"
	ModeThresholds = "thresholds"
)

// DefaultWorkers is the pool width when none is configured.
const DefaultWorkers = 10

// Recorder receives pass instrumentation. Implementations must be safe for
// concurrent use; RecordFetch is called from worker goroutines.
type Recorder interface {
	RecordFetch(mode string, seconds float64)
	RecordOutcome(mode, state string)
	RecordPass(mode string, seconds float64, failures int, success bool)
	RecordSnapshot(sites int)
	RecordError(component, reason string)
}

// FloodStageSource fetches NWS flood stages for one gauge.
type FloodStageSource interface {
	FetchFloodStages(ctx context.Context, gaugeID string) (*adapters.FloodStages, error)
}

// Config wires an Orchestrator. Source and Store are required.
type Config struct {
	Source      adapters.Source
	Store       objectstore.Store
	Builder     *reference.Builder
	Classifier  *classify.Classifier
	Publisher   *snapshot.Publisher
	FloodSource FloodStageSource

	// Workers bounds the number of concurrent gauge tasks.
	Workers int
	// FetchTimeout bounds each upstream call. Zero disables the timeout.
	FetchTimeout time.Duration
	// Limiter, if set, paces upstream calls across all workers.
	Limiter *rate.Limiter
	// HistoryStart is the first day requested by the build pass.
	HistoryStart time.Time
	// TrendWindow is how far back the live pass reads archived snapshots.
	// Zero disables trend detection.
	TrendWindow time.Duration
	Trend       trend.Detector
	// DryRun computes everything and publishes nothing.
	DryRun bool

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Recorder Recorder
}

// Orchestrator runs passes. One Orchestrator may run passes sequentially;
// concurrent passes against the same store are not coordinated.
type Orchestrator struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, errors.New("fleet: source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("fleet: object store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Builder == nil {
		b, err := reference.NewBuilder(nil)
		if err != nil {
			return nil, err
		}
		cfg.Builder = b
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classify.Default()
	}
	if cfg.Trend == (trend.Detector{}) {
		cfg.Trend = trend.DefaultDetector()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = snapshot.NewPublisher(cfg.Store, true, cfg.Logger)
	}
	return &Orchestrator{cfg: cfg, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Report summarizes one pass.
type Report struct {
	RunID      string
	Mode       string
	Partitions []string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempted  int
	Succeeded  int
	Published  []string
	Ledger     *Ledger
	// Snapshot is the assembled document of a live pass.
	Snapshot *snapshot.Snapshot
}

// Duration returns the wall time of the pass.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// ExitCode is 0 for a clean pass and 2 when any gauge or artifact failed.
func (r *Report) ExitCode() int {
	if r.Ledger.Empty() {
		return 0
	}
	return 2
}

// outcome is the result slot owned by one gauge task.
type outcome struct {
	gauge   adapters.Gauge
	state   State
	err     error
	table   *reference.Table
	result  classify.Result
	stages  *adapters.FloodStages
	skipped bool
}

func (o *Orchestrator) newReport(mode string, gauges []adapters.Gauge) *Report {
	return &Report{
		RunID:      uuid.NewString(),
		Mode:       mode,
		Partitions: partitionsOf(gauges),
		StartedAt:  o.clock.Now(),
		Attempted:  len(gauges),
		Ledger:     NewLedger(),
	}
}

// fanOut runs task for every gauge on the bounded pool and waits for all of
// them. Tasks never return an error, so no sibling is cancelled.
func (o *Orchestrator) fanOut(ctx context.Context, gauges []adapters.Gauge, task func(context.Context, adapters.Gauge) outcome) []outcome {
	outcomes := make([]outcome, len(gauges))
	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, gauge := range gauges {
		outcomes[i] = outcome{gauge: gauge, state: Pending}
		g.Go(func() error {
			outcomes[i] = o.safely(ctx, gauge, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// safely isolates a panicking task to its own gauge.
func (o *Orchestrator) safely(ctx context.Context, gauge adapters.Gauge, task func(context.Context, adapters.Gauge) outcome) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{gauge: gauge, state: ComputeFailed, err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return task(ctx, gauge)
}

// fetch paces and times one upstream call.
func (o *Orchestrator) fetch(ctx context.Context, mode string, call func(context.Context) error) error {
	if o.cfg.Limiter != nil {
		if err := o.cfg.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	if o.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		defer cancel()
	}

	start := o.clock.Now()
	err := call(ctx)
	if o.cfg.Recorder != nil {
		o.cfg.Recorder.RecordFetch(mode, o.clock.Since(start).Seconds())
	}
	return err
}

// recordFailures moves failed outcomes into the ledger and logs them.
func (o *Orchestrator) recordFailures(report *Report, outcomes []outcome) {
	for _, out := range outcomes {
		if !out.state.Failed() {
			continue
		}
		f := Failure{
			GaugeID:   out.gauge.ID,
			Partition: out.gauge.Partition,
			State:     out.state,
			Kind:      failureKind(out.err),
			Reason:    out.err.Error(),
		}
		report.Ledger.RecordGauge(f)
		o.logger.Warn("gauge failed",
			"run_id", report.RunID,
			"mode", report.Mode,
			"gauge_id", f.GaugeID,
			"partition", f.Partition,
			"state", f.State.String(),
			"kind", f.Kind,
			"error", out.err,
		)
	}
}

// recordOutcomes reports the terminal state of every gauge.
func (o *Orchestrator) recordOutcomes(mode string, outcomes []outcome) {
	if o.cfg.Recorder == nil {
		return
	}
	for _, out := range outcomes {
		o.cfg.Recorder.RecordOutcome(mode, out.state.String())
	}
}

// recordArtifactFailure adds an artifact failure to the ledger.
func (o *Orchestrator) recordArtifactFailure(report *Report, key string, err error) {
	report.Ledger.RecordArtifact(key, err)
	if o.cfg.Recorder != nil {
		reason := "publish_failed"
		var dup *reference.DuplicateGaugeError
		if errors.As(err, &dup) {
			reason = "duplicate_gauge"
		}
		o.cfg.Recorder.RecordError("publisher", reason)
	}
	o.logger.Error("artifact failed", "run_id", report.RunID, "mode", report.Mode, "key", key, "error", err)
}

// finish stamps the report and emits the pass summary.
func (o *Orchestrator) finish(report *Report) *Report {
	report.FinishedAt = o.clock.Now()
	if o.cfg.Recorder != nil {
		o.cfg.Recorder.RecordPass(report.Mode, report.Duration().Seconds(), report.Ledger.Len(), report.Ledger.Empty())
	}
	o.logger.Info("pass complete",
		"run_id", report.RunID,
		"mode", report.Mode,
		"partitions", len(report.Partitions),
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", report.Ledger.Len(),
		"artifact_failures", len(report.Ledger.Artifacts()),
		"published", len(report.Published),
		"dry_run", o.cfg.DryRun,
		"duration_ms", report.Duration().Milliseconds(),
	)
	return report
}

func partitionsOf(gauges []adapters.Gauge) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range gauges {
		if _, ok := seen[g.Partition]; !ok {
			seen[g.Partition] = struct{}{}
			out = append(out, g.Partition)
		}
	}
	sort.Strings(out)
	return out
}

// ResolveGauges lists the gauges of each partition. An empty partition list
// asks the lister for every gauge it knows.
func ResolveGauges(ctx context.Context, lister adapters.Lister, partitions []string) ([]adapters.Gauge, error) {
	if len(partitions) == 0 {
		return lister.ListGauges(ctx, "")
	}
	var out []adapters.Gauge
	for _, p := range partitions {
		if err := reference.ValidatePartition(p); err != nil {
			return nil, err
		}
		gauges, err := lister.ListGauges(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list gauges for %s: %w", p, err)
		}
		out = append(out, gauges...)
	}
	return out, nil
}
