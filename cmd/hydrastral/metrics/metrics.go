// Package metrics provides Prometheus instrumentation for fleet passes.
//
// Metrics exposed:
//   - hydrastral_fetch_seconds{mode}: Histogram of upstream call duration
//   - hydrastral_gauge_outcomes_total{mode,state}: Counter of terminal gauge states
//   - hydrastral_pass_seconds{mode}: Histogram of pass duration
//   - hydrastral_pass_failures{mode}: Gauge of ledger entries of the last pass
//   - hydrastral_last_success_timestamp_seconds{mode}: Gauge of the last clean pass
//   - hydrastral_snapshot_sites: Gauge of sites in the last assembled snapshot
//   - hydrastral_errors_total{component,reason}: Counter of non-gauge errors
//
// Serve mode registers on the default registry and exposes /metrics. Batch
// commands register on a private registry and push it to a Pushgateway.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics. It implements fleet.Recorder.
type Metrics struct {
	FetchSeconds         *prometheus.HistogramVec
	GaugeOutcomes        *prometheus.CounterVec
	PassSeconds          *prometheus.HistogramVec
	PassFailures         *prometheus.GaugeVec
	LastSuccessTimestamp *prometheus.GaugeVec
	SnapshotSites        prometheus.Gauge
	ErrorsTotal          *prometheus.CounterVec
}

// New creates all metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hydrastral_fetch_seconds",
			Help:    "Time spent in one upstream call",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"mode"}),

		GaugeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydrastral_gauge_outcomes_total",
			Help: "Gauges by terminal state of their pass",
		}, []string{"mode", "state"}),

		PassSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hydrastral_pass_seconds",
			Help:    "Wall time of a fleet pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"mode"}),

		PassFailures: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydrastral_pass_failures",
			Help: "Failed gauges in the most recent pass",
		}, []string{"mode"}),

		LastSuccessTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hydrastral_last_success_timestamp_seconds",
			Help: "Unix time of the most recent pass with an empty failure ledger",
		}, []string{"mode"}),

		SnapshotSites: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hydrastral_snapshot_sites",
			Help: "Sites in the most recently assembled snapshot",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hydrastral_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordFetch records the duration of one upstream call.
func (m *Metrics) RecordFetch(mode string, seconds float64) {
	m.FetchSeconds.WithLabelValues(mode).Observe(seconds)
}

// RecordOutcome counts one gauge reaching state.
func (m *Metrics) RecordOutcome(mode, state string) {
	m.GaugeOutcomes.WithLabelValues(mode, state).Inc()
}

// RecordPass records a finished pass.
func (m *Metrics) RecordPass(mode string, seconds float64, failures int, success bool) {
	m.PassSeconds.WithLabelValues(mode).Observe(seconds)
	m.PassFailures.WithLabelValues(mode).Set(float64(failures))
	if success {
		m.LastSuccessTimestamp.WithLabelValues(mode).SetToCurrentTime()
	}
}

// RecordSnapshot sets the site count of the last snapshot.
func (m *Metrics) RecordSnapshot(sites int) {
	m.SnapshotSites.Set(float64(sites))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// Push sends everything in g to the Pushgateway at url, grouped by job and
// mode. The previous group is replaced.
func Push(ctx context.Context, url, job, mode string, g prometheus.Gatherer) error {
	err := push.New(url, job).
		Gatherer(g).
		Grouping("mode", mode).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
