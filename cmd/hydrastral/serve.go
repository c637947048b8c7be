package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/hydrastral/pkg/adapters"
	"github.com/HatiCode/hydrastral/pkg/fleet"
	"github.com/HatiCode/hydrastral/pkg/objectstore"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
	"github.com/HatiCode/hydrastral/pkg/storage"
)

// healthService is the gRPC health service name reported by serve mode.
const healthService = "hydrastral"

// Server runs a live pass every interval and keeps the serve cache on the
// most recently published snapshot.
type Server struct {
	orch    *fleet.Orchestrator
	gauges  []adapters.Gauge
	objects objectstore.Store
	cache   storage.Store
	scope   string
	dryRun  bool
	health  *health.Server
	clock   clockwork.Clock
	logger  *slog.Logger

	// onPass, if set, sees every finished report.
	onPass func(ctx context.Context, report *fleet.Report)
}

// NewServer creates a serve loop. hs may be nil.
func NewServer(
	orch *fleet.Orchestrator,
	gauges []adapters.Gauge,
	objects objectstore.Store,
	cache storage.Store,
	hs *health.Server,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Server {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:    orch,
		gauges:  gauges,
		objects: objects,
		cache:   cache,
		scope:   storage.DefaultScope,
		health:  hs,
		clock:   clock,
		logger:  logger,
	}
	s.setHealth(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s
}

// Warm loads the currently published snapshot into the cache so the API
// answers before the first pass completes. A missing document is not an
// error.
func (s *Server) Warm(ctx context.Context) error {
	snap, err := snapshot.LoadCurrent(ctx, s.objects)
	if errors.Is(err, objectstore.ErrNotFound) {
		s.logger.Info("no published snapshot to warm the cache from")
		return nil
	}
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	if err := s.cache.Put(ctx, s.scope, snap); err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	s.setHealth(grpc_health_v1.HealthCheckResponse_SERVING)
	s.logger.Info("cache warmed from published snapshot",
		"generated_at", snap.GeneratedAt, "site_count", snap.SiteCount)
	return nil
}

// Run executes a live pass immediately and then every interval.
// Blocks until context is canceled.
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("starting live loop", "interval", interval, "gauges", len(s.gauges))

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("initial live pass failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("live loop stopped")
			return ctx.Err()
		case <-ticker.Chan():
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("live pass failed", "error", err)
			}
		}
	}
}

// Tick runs one live pass and caches its snapshot once published. When
// publishing fails the cache keeps the previous snapshot, matching what the
// object store still serves.
func (s *Server) Tick(ctx context.Context) error {
	report, err := s.orch.Live(ctx, s.gauges)
	if err != nil {
		return fmt.Errorf("live pass: %w", err)
	}
	if s.onPass != nil {
		s.onPass(ctx, report)
	}

	if report.Snapshot == nil {
		return nil
	}
	if len(report.Published) == 0 && !s.dryRun {
		s.logger.Warn("snapshot not published, keeping previous cache entry", "run_id", report.RunID)
		return nil
	}
	if err := s.cache.Put(ctx, s.scope, *report.Snapshot); err != nil {
		return fmt.Errorf("cache snapshot: %w", err)
	}
	s.setHealth(grpc_health_v1.HealthCheckResponse_SERVING)
	return nil
}

func (s *Server) setHealth(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if s.health == nil {
		return
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(healthService, status)
}
