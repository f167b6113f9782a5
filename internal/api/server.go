// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rtseis/rtseis/internal/catalog"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/scheduler"
	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/visual"
)

// Detector is the scheduler surface the API exposes. Satisfied by
// scheduler.Scheduler.
type Detector interface {
	Status() scheduler.Status
	AddTemplates(ctx context.Context, tmpls ...template.Template) ([]string, error)
}

// Catalog is the detection store surface the API reads. Satisfied by
// catalog.Store.
type Catalog interface {
	List(ctx context.Context, since time.Time, limit int) ([]catalog.Record, error)
	Count(ctx context.Context) (int, error)
}

// Config carries the HTTP server's tunables.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// AllowedOrigins configures CORS. Empty disables cross-origin access.
	AllowedOrigins []string

	// RateLimitDisabled turns off per-IP rate limiting (tests, local runs).
	RateLimitDisabled bool

	// ReadTimeout and WriteTimeout bound request handling. The websocket
	// endpoint is exempt from WriteTimeout via the route's long-lived hijack.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the operational HTTP server.
type Server struct {
	cfg      Config
	detector Detector
	catalog  Catalog
	hub      *visual.Hub
	srv      *http.Server
}

// NewServer wires the API over its collaborators. catalog and hub may be nil;
// the corresponding endpoints answer 503 / 404.
func NewServer(cfg Config, detector Detector, cat Catalog, hub *visual.Hub) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	s := &Server{cfg: cfg, detector: detector, catalog: cat, hub: hub}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	mw := NewMiddleware(s.cfg.AllowedOrigins, s.cfg.RateLimitDisabled)

	r := chi.NewRouter()
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	// Health probes: permissive limits for monitoring.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(RateLimitHealth))
		r.Get("/healthz", s.HealthLive)
		r.Get("/readyz", s.HealthReady)
	})

	// Operational API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit(RateLimitAPI))
		r.Use(SecurityHeaders())
		r.Use(RequestLogging())

		r.Get("/status", s.StatusHandler)
		r.Get("/detections", s.Detections)

		// Template additions trigger historical catch-up scans.
		r.With(mw.RateLimit(RateLimitWrite)).Post("/templates", s.AddTemplates)
	})

	// Live visualization websocket.
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(RateLimitWebSocket))
		r.Get("/ws", s.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
