package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/HatiCode/hydrastral/cmd/hydrastral/config"
	"github.com/HatiCode/hydrastral/cmd/hydrastral/logger"
	"github.com/HatiCode/hydrastral/cmd/hydrastral/metrics"
	"github.com/HatiCode/hydrastral/cmd/hydrastral/router"
	"github.com/HatiCode/hydrastral/pkg/fleet"
	"github.com/HatiCode/hydrastral/pkg/httpx"
	"github.com/HatiCode/hydrastral/pkg/storage"
)

// Process exit codes.
const (
	exitOK       = 0
	exitSetup    = 1
	exitFailures = 2
)

// exitError carries a process exit code out of a command. A nil err means
// the command already reported why it failed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func setupError(err error) error { return &exitError{code: exitSetup, err: err} }

// newRootCmd builds the command tree. Flags are shared by every command.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hydrastral",
		Short: "Classify stream gauges against their day-of-year flow history",
		Long: `hydrastral builds per-gauge percentile tables from historical daily
discharge, classifies current readings against them, and publishes one
fleet-wide status document per pass.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg := config.Bind(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "build",
			Short: "Fetch full history and publish per-partition percentile tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPass(cmd.Context(), cfg, fleet.ModeBuild)
			},
		},
		&cobra.Command{
			Use:   "live",
			Short: "Classify current readings and publish the fleet snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPass(cmd.Context(), cfg, fleet.ModeLive)
			},
		},
		&cobra.Command{
			Use:   "thresholds",
			Short: "Fetch NWS flood stages and publish the flood threshold table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPass(cmd.Context(), cfg, fleet.ModeThresholds)
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run live passes on an interval and serve the latest snapshot over HTTP",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), cfg)
			},
		},
	)
	return root
}

// execute runs the CLI and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return exitSetup
}

// setup validates the configuration and installs the logger.
func setup(cfg *config.Config) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, setupError(err)
	}
	log := logger.New(cfg)
	slog.SetDefault(log)
	return log, nil
}

// runPass runs one batch pass. The exit code is 2 when the pass ledger is
// not empty.
func runPass(ctx context.Context, cfg *config.Config, mode string) error {
	log, err := setup(cfg)
	if err != nil {
		return err
	}
	log.Info("starting hydrastral", "version", version, "mode", mode)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	a, err := newApp(ctx, cfg, log, reg, nil)
	if err != nil {
		return setupError(err)
	}
	defer a.Close()

	gauges, err := a.gauges(ctx)
	if err != nil {
		return setupError(err)
	}

	var report *fleet.Report
	switch mode {
	case fleet.ModeBuild:
		report, err = a.orch.Build(ctx, gauges)
	case fleet.ModeLive:
		report, err = a.orch.Live(ctx, gauges)
	case fleet.ModeThresholds:
		report, err = a.orch.Thresholds(ctx, gauges)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return setupError(err)
	}

	a.recordPass(ctx, report)
	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, "hydrastral", mode, reg); err != nil {
			log.Warn("failed to push metrics", "error", err)
		}
	}

	if code := report.ExitCode(); code != exitOK {
		log.Warn("pass finished with failures",
			"run_id", report.RunID,
			"failed_gauges", report.Ledger.Len(),
			"failed_artifacts", len(report.Ledger.Artifacts()),
		)
		return &exitError{code: code}
	}
	return nil
}

// runServe runs the live loop with the HTTP API and optional gRPC health
// service until SIGINT or SIGTERM.
func runServe(ctx context.Context, cfg *config.Config) error {
	log, err := setup(cfg)
	if err != nil {
		return err
	}
	log.Info("starting hydrastral", "version", version, "mode", "serve",
		"listen", cfg.Listen, "grpc_listen", cfg.GRPCListen, "interval", cfg.Interval)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	a, err := newApp(ctx, cfg, log, prometheus.DefaultRegisterer, clock)
	if err != nil {
		return setupError(err)
	}
	defer a.Close()

	gauges, err := a.gauges(ctx)
	if err != nil {
		return setupError(err)
	}

	cache, closeCache, err := newCache(cfg, clock)
	if err != nil {
		return setupError(err)
	}
	defer closeCache()

	hs := health.NewServer()
	srv := NewServer(a.orch, gauges, a.objects, cache, hs, clock, log)
	srv.dryRun = cfg.DryRun
	srv.onPass = a.recordPass
	if err := srv.Warm(ctx); err != nil {
		log.Warn("failed to warm cache", "error", err)
		a.metrics.RecordError("cache", "warm_failed")
	}

	var passes router.PassLister
	if a.passes != nil {
		passes = a.passes
	}
	handler := router.SetupRoutes(router.Config{
		Store:      cache,
		Scope:      storage.DefaultScope,
		StaleAfter: 2 * cfg.Interval,
		Passes:     passes,
		Logger:     log,
	})
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	serverErr := make(chan error, 2)
	var grpcServer *grpc.Server
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			return setupError(fmt.Errorf("grpc listen: %w", err))
		}
		grpcServer = grpc.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, hs)
		reflection.Register(grpcServer)
		go func() {
			log.Info("starting gRPC health server", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				serverErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	go func() {
		serverErr <- httpServer.Start()
	}()

	go func() {
		if err := srv.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("live loop failed", "error", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			runErr = &exitError{code: exitSetup, err: err}
		}
	}

	log.Info("shutting down")
	stop()
	hs.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		return &exitError{code: exitSetup, err: err}
	}

	log.Info("shutdown complete")
	return runErr
}

// newCache builds the serve snapshot cache.
func newCache(cfg *config.Config, clock clockwork.Clock) (storage.Store, func(), error) {
	switch cfg.Storage {
	case "redis":
		rs, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		ms := storage.NewMemoryStoreWithTTL(cfg.CacheTTL, time.Minute, clock)
		return ms, ms.Stop, nil
	}
}
