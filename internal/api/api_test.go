// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rtseis/rtseis/internal/catalog"
	"github.com/rtseis/rtseis/internal/scheduler"
	"github.com/rtseis/rtseis/internal/template"
)

type fakeDetector struct {
	status scheduler.Status
	added  []template.Template
	names  []string
	err    error
}

func (d *fakeDetector) Status() scheduler.Status { return d.status }

func (d *fakeDetector) AddTemplates(_ context.Context, tmpls ...template.Template) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.added = append(d.added, tmpls...)
	return d.names, nil
}

type fakeCatalog struct {
	records []catalog.Record
	since   time.Time
	limit   int
}

func (c *fakeCatalog) List(_ context.Context, since time.Time, limit int) ([]catalog.Record, error) {
	c.since = since
	c.limit = limit
	return c.records, nil
}

func (c *fakeCatalog) Count(context.Context) (int, error) { return len(c.records), nil }

func newTestServer(detector Detector, cat Catalog) *Server {
	return NewServer(Config{Addr: ":0", RateLimitDisabled: true}, detector, cat, nil)
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return resp
}

func TestHealthLive(t *testing.T) {
	s := newTestServer(&fakeDetector{}, nil)
	rec := doRequest(t, s.Routes(), http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp := decodeResponse(t, rec); !resp.Success {
		t.Fatal("liveness response not successful")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestHealthReadyReflectsDetector(t *testing.T) {
	d := &fakeDetector{}
	s := newTestServer(d, nil)

	rec := doRequest(t, s.Routes(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not-running readiness = %d, want 503", rec.Code)
	}

	d.status.Running = true
	d.status.State = scheduler.StateDetecting
	rec = doRequest(t, s.Routes(), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("running readiness = %d, want 200", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	d := &fakeDetector{status: scheduler.Status{
		State:      scheduler.StateSleeping,
		Running:    true,
		Iteration:  7,
		Detections: 3,
		Templates:  []string{"T1", "T2"},
	}}
	s := newTestServer(d, nil)

	rec := doRequest(t, s.Routes(), http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decodeResponse(t, rec)
	data, err := json.Marshal(resp.Data)
	if err != nil {
		t.Fatalf("re-marshal data: %v", err)
	}
	var got scheduler.Status
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode status payload: %v", err)
	}
	if got.State != scheduler.StateSleeping || got.Iteration != 7 || got.Detections != 3 {
		t.Fatalf("status payload mismatch: %+v", got)
	}
}

func TestDetectionsQueryValidation(t *testing.T) {
	s := newTestServer(&fakeDetector{}, &fakeCatalog{})

	tests := []struct {
		name   string
		target string
	}{
		{"bad since", "/api/v1/detections?since=yesterday"},
		{"bad limit", "/api/v1/detections?limit=-5"},
		{"non-numeric limit", "/api/v1/detections?limit=all"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, s.Routes(), http.MethodGet, tc.target, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeResponse(t, rec); resp.Error == nil || resp.Error.Code != ErrCodeBadRequest {
				t.Fatalf("error payload = %+v", resp.Error)
			}
		})
	}
}

func TestDetectionsListPassesQuery(t *testing.T) {
	cat := &fakeCatalog{records: []catalog.Record{
		{ID: "a", Template: "T1"},
		{ID: "b", Template: "T2"},
	}}
	s := newTestServer(&fakeDetector{}, cat)

	rec := doRequest(t, s.Routes(), http.MethodGet,
		"/api/v1/detections?since=2026-02-14T00:00:00Z&limit=5000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if cat.limit != maxDetectionLimit {
		t.Fatalf("limit = %d, want capped at %d", cat.limit, maxDetectionLimit)
	}
	want := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	if !cat.since.Equal(want) {
		t.Fatalf("since = %s, want %s", cat.since, want)
	}

	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Fatal("list response not successful")
	}
}

func TestDetectionsWithoutCatalog(t *testing.T) {
	s := newTestServer(&fakeDetector{}, nil)
	rec := doRequest(t, s.Routes(), http.MethodGet, "/api/v1/detections", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestAddTemplates(t *testing.T) {
	d := &fakeDetector{names: []string{"T1", "T2"}}
	s := newTestServer(d, nil)

	body := `{"templates":[{"name":"T2","channels":["NZ.WEL.10.HHZ"],"process_length":60000000000}]}`
	rec := doRequest(t, s.Routes(), http.MethodPost, "/api/v1/templates", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if len(d.added) != 1 || d.added[0].Name != "T2" {
		t.Fatalf("detector received %+v", d.added)
	}

	resp := decodeResponse(t, rec)
	data, _ := json.Marshal(resp.Data)
	var payload addTemplatesResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Templates) != 2 {
		t.Fatalf("active templates = %v, want 2", payload.Templates)
	}
}

func TestAddTemplatesRejectsEmptyAndMalformed(t *testing.T) {
	s := newTestServer(&fakeDetector{}, nil)

	rec := doRequest(t, s.Routes(), http.MethodPost, "/api/v1/templates", `{"templates":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty templates: status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, s.Routes(), http.MethodPost, "/api/v1/templates", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want 400", rec.Code)
	}
}

func TestSecurityHeadersOnAPIRoutes(t *testing.T) {
	s := newTestServer(&fakeDetector{}, nil)
	rec := doRequest(t, s.Routes(), http.MethodGet, "/api/v1/status", "")

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("X-Frame-Options = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeDetector{}, nil)
	rec := doRequest(t, s.Routes(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing standard collectors")
	}
}
