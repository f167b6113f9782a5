// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/visual"
)

const (
	defaultDetectionLimit = 100
	maxDetectionLimit     = 1000
)

// HealthLive answers liveness probes.
func (s *Server) HealthLive(w http.ResponseWriter, r *http.Request) {
	newResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady answers readiness probes: ready once the detector reports a
// running loop.
func (s *Server) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := newResponseWriter(w, r)
	st := s.detector.Status()
	if !st.Running {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "detector not running")
		return
	}
	rw.Success(map[string]interface{}{
		"status": "ready",
		"state":  st.State,
	})
}

// StatusHandler reports the detector's current state, buffer coverage and
// detection count.
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	newResponseWriter(w, r).Success(s.detector.Status())
}

// detectionsPayload is the list response for /api/v1/detections.
type detectionsPayload struct {
	Detections interface{} `json:"detections"`
	Count      int         `json:"count"`
	Total      int         `json:"total"`
}

// Detections lists catalogued detections, newest first.
//
// Query parameters:
//
//	since  RFC3339 lower bound on detection time (optional)
//	limit  max rows, default 100, capped at 1000
func (s *Server) Detections(w http.ResponseWriter, r *http.Request) {
	rw := newResponseWriter(w, r)
	if s.catalog == nil {
		rw.ServiceUnavailable("detection catalog not configured")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rw.BadRequest("invalid 'since': must be RFC3339")
			return
		}
		since = t
	}

	limit := defaultDetectionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rw.BadRequest("invalid 'limit': must be a positive integer")
			return
		}
		if n > maxDetectionLimit {
			n = maxDetectionLimit
		}
		limit = n
	}

	records, err := s.catalog.List(r.Context(), since, limit)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list detections")
		rw.InternalError("failed to list detections")
		return
	}
	total, err := s.catalog.Count(r.Context())
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to count detections")
		rw.InternalError("failed to count detections")
		return
	}

	rw.Success(detectionsPayload{Detections: records, Count: len(records), Total: total})
}

// addTemplatesRequest is the POST /api/v1/templates body.
type addTemplatesRequest struct {
	Templates []template.Template `json:"templates"`
}

// addTemplatesResponse lists the active template set after the addition.
type addTemplatesResponse struct {
	Templates []string `json:"templates"`
}

// AddTemplates adds templates to the running detector. The call blocks until
// any in-progress detection cycle finishes and the historical catch-up scan
// for the new templates completes.
func (s *Server) AddTemplates(w http.ResponseWriter, r *http.Request) {
	rw := newResponseWriter(w, r)

	var req addTemplatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if len(req.Templates) == 0 {
		rw.BadRequest("no templates given")
		return
	}

	names, err := s.detector.AddTemplates(r.Context(), req.Templates...)
	if err != nil {
		rw.Error(http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
		return
	}

	logging.Ctx(r.Context()).Info().Int("requested", len(req.Templates)).
		Int("active", len(names)).Msg("Templates added via API")
	rw.Success(addTemplatesResponse{Templates: names})
}

// WebSocket upgrades the connection and attaches it to the visualization hub.
func (s *Server) WebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	visual.ServeWS(s.hub, w, r)
}
