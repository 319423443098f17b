// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the operational HTTP surface: health, metrics and pool state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/abrexport/internal/config"
	"github.com/ManuGH/abrexport/internal/log"
	"github.com/ManuGH/abrexport/internal/pool"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PoolStats is the read-only pool view the server needs.
type PoolStats interface {
	Stats() pool.Stats
	IsIdle() bool
}

// ConfigHolder reloads and exposes the running configuration.
type ConfigHolder interface {
	Get() config.AppConfig
	Reload(ctx context.Context) error
}

// DefaultReloadLimit is the number of config reloads allowed per client per minute.
const DefaultReloadLimit = 10

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	version     string
	started     time.Time
	pool        PoolStats
	reloadLimit int

	mu           sync.RWMutex
	configHolder ConfigHolder
}

// New creates a server for the given pool.
func New(version string, p PoolStats) *Server {
	return &Server{version: version, started: time.Now(), pool: p, reloadLimit: DefaultReloadLimit}
}

// SetConfigHolder enables POST /api/config/reload.
func (s *Server) SetConfigHolder(holder ConfigHolder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configHolder = holder
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(tracingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(logMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/pool", s.handlePool)
		r.With(rateLimit(s.reloadLimit, time.Minute)).Post("/config/reload", s.handleConfigReload)
	})
	return r
}

type healthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Idle          bool    `json:"idle"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.pool.Stats()
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Idle:          s.pool.IsIdle(),
	}
	code := http.StatusOK
	if stats.Closed {
		resp.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	holder := s.configHolder
	s.mu.RUnlock()

	if holder == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "config reload not available"})
		return
	}

	oldCfg := holder.Get()
	if err := holder.Reload(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "config")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("config reload failed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp := struct {
		RestartRequired bool `json:"restart_required"`
	}{
		RestartRequired: reloadRequiresRestart(oldCfg, holder.Get()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// reloadRequiresRestart reports changes the running process cannot apply live.
func reloadRequiresRestart(oldCfg, newCfg config.AppConfig) bool {
	return oldCfg.Pool.Workers != newCfg.Pool.Workers ||
		oldCfg.API.ListenAddr != newCfg.API.ListenAddr ||
		oldCfg.Ingest.Inbox != newCfg.Ingest.Inbox ||
		oldCfg.FFmpeg.Bin != newCfg.FFmpeg.Bin ||
		oldCfg.FFmpeg.FFprobeBin != newCfg.FFmpeg.FFprobeBin ||
		oldCfg.Telemetry != newCfg.Telemetry
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
