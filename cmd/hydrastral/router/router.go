// Package router configures HTTP routes for hydrastral's serve mode.
//
// Routes configured:
//   - GET /status/current - Latest fleet snapshot, as published
//   - GET /status/site?id=<gauge> - One gauge's entry of the latest snapshot
//   - GET /passes?mode=<mode>&limit=<n> - Recent passes from the pass log
//   - GET /healthz - Liveness (always 200 OK)
//   - GET /readyz - 200 once a snapshot is cached, 503 before
//   - GET /metrics - Prometheus metrics endpoint
//
// Snapshots older than the stale threshold are still served, with an
// X-Hydrastral-Stale header.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/hydrastral/pkg/httpx"
	"github.com/HatiCode/hydrastral/pkg/passlog"
	"github.com/HatiCode/hydrastral/pkg/snapshot"
	"github.com/HatiCode/hydrastral/pkg/storage"
)

var gaugeIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// PassLister reads recent passes. *passlog.Store implements it.
type PassLister interface {
	Recent(ctx context.Context, mode string, limit int) ([]passlog.Entry, error)
}

// Config holds the dependencies of the routes.
type Config struct {
	Store storage.Store
	// Scope is the cache scope the serve loop writes to.
	Scope      string
	StaleAfter time.Duration
	// Passes is optional; /passes answers 404 without it.
	Passes PassLister
	Logger *slog.Logger
}

// SetupRoutes configures HTTP endpoints for serve mode.
func SetupRoutes(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scope == "" {
		cfg.Scope = storage.DefaultScope
	}

	mux := http.NewServeMux()

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/readyz", httpx.HealthHandlerWithCheck(readyCheck(cfg)))

	mux.HandleFunc("/status/current", handleCurrent(cfg))
	mux.HandleFunc("/status/site", handleSite(cfg))
	mux.HandleFunc("/passes", handlePasses(cfg))

	mux.Handle("/metrics", promhttp.Handler())

	return httpx.RecoveryMiddleware(cfg.Logger)(httpx.LoggingMiddleware(cfg.Logger)(mux))
}

func readyCheck(cfg Config) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, found, err := cfg.Store.GetLatest(ctx, cfg.Scope)
		if err != nil {
			return fmt.Errorf("snapshot cache unavailable: %w", err)
		}
		if !found {
			return errors.New("no snapshot published yet")
		}
		return nil
	}
}

// latest loads the cached snapshot and writes the error response itself
// when there is none.
func latest(w http.ResponseWriter, r *http.Request, cfg Config) (snapshot.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, found, err := cfg.Store.GetLatest(ctx, cfg.Scope)
	if err != nil {
		cfg.Logger.Error("failed to get snapshot", "scope", cfg.Scope, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return snapshot.Snapshot{}, false
	}
	if !found {
		httpx.WriteErrorMessage(w, http.StatusNotFound, "no snapshot published yet")
		return snapshot.Snapshot{}, false
	}

	if cfg.StaleAfter > 0 && time.Since(snap.GeneratedAt) > cfg.StaleAfter {
		w.Header().Set("X-Hydrastral-Stale", "true")
	}
	return snap, true
}

// handleCurrent returns a handler for GET /status/current.
func handleCurrent(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		snap, ok := latest(w, r, cfg)
		if !ok {
			return
		}
		if err := httpx.WriteJSON(w, http.StatusOK, snap); err != nil {
			cfg.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handleSite returns a handler for GET /status/site?id=<gauge>.
func handleSite(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "id parameter required")
			return
		}
		if !gaugeIDRegex.MatchString(id) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid gauge id format")
			return
		}

		snap, ok := latest(w, r, cfg)
		if !ok {
			return
		}
		site, found := snap.Site(id)
		if !found {
			if reason, failed := snap.Failures[id]; failed {
				httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("gauge %q failed in the last pass: %s", id, reason))
				return
			}
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("gauge %q not in snapshot", id))
			return
		}

		resp := map[string]any{
			"gauge_id":     id,
			"generated_at": snap.GeneratedAt.Format(time.RFC3339),
			"site":         site,
		}
		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			cfg.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// handlePasses returns a handler for GET /passes.
func handlePasses(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Passes == nil {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "pass log disabled")
			return
		}

		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				httpx.WriteErrorMessage(w, http.StatusBadRequest, "limit must be between 1 and 500")
				return
			}
			limit = n
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		entries, err := cfg.Passes.Recent(ctx, r.URL.Query().Get("mode"), limit)
		if err != nil {
			cfg.Logger.Error("failed to read pass log", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if entries == nil {
			entries = []passlog.Entry{}
		}
		if err := httpx.WriteJSON(w, http.StatusOK, map[string]any{"passes": entries}); err != nil {
			cfg.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}
