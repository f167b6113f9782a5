// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/waveform"
)

var t0 = time.Date(2026, 2, 14, 6, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), ":memory:", dir)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func testDetection(offset time.Duration) *detect.Detection {
	at := t0.Add(offset)
	return &detect.Detection{
		Template:  "mainshock-01",
		Time:      at,
		CorSum:    7.2,
		Threshold: 6.5,
		Picks: []detect.Pick{
			{Channel: "NZ.WEL.10.HHZ", Time: at.Add(time.Second)},
			{Channel: "NZ.BFZ.10.HHZ", Time: at.Add(3 * time.Second)},
		},
	}
}

func testSnippet() *waveform.Stream {
	return &waveform.Stream{Traces: []waveform.Packet{{
		Channel: "NZ.WEL.10.HHZ",
		Start:   t0,
		Delta:   time.Second,
		Samples: []float64{1, 2, 3, 4},
	}}}
}

func TestWriteAndList(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	id, err := s.Write(ctx, testDetection(0), testSnippet())
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if id == "" {
		t.Fatal("write returned empty id")
	}

	recs, err := s.List(ctx, t0.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("list returned %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Template != "mainshock-01" || r.CorSum != 7.2 || r.Channels != 2 {
		t.Fatalf("record fields wrong: %+v", r)
	}
	if r.WaveformPath == "" {
		t.Fatal("record has no waveform path")
	}
}

func TestSnippetLayoutByYearAndJulianDay(t *testing.T) {
	s, dir := openTestStore(t)

	// 2026-02-14 is julian day 045.
	if _, err := s.Write(context.Background(), testDetection(0), testSnippet()); err != nil {
		t.Fatalf("write: %v", err)
	}

	dayDir := filepath.Join(dir, "2026", "045")
	entries, err := os.ReadDir(dayDir)
	if err != nil {
		t.Fatalf("read snippet dir %s: %v", dayDir, err)
	}
	if len(entries) != 1 {
		t.Fatalf("snippet dir holds %d files, want 1", len(entries))
	}
	if name := entries[0].Name(); name != "mainshock-01_20260214T063000.json" {
		t.Fatalf("snippet file name = %q", name)
	}
}

func TestWriteWithoutSnippet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Write(ctx, testDetection(0), nil); err != nil {
		t.Fatalf("write without snippet: %v", err)
	}
	recs, err := s.List(ctx, t0.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if recs[0].WaveformPath != "" {
		t.Fatalf("waveform path set without snippet: %q", recs[0].WaveformPath)
	}
}

func TestListSinceAndLimit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Write(ctx, testDetection(time.Duration(i)*time.Hour), nil); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	recs, err := s.List(ctx, t0.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("since filter returned %d records, want 3", len(recs))
	}
	// Newest first.
	if !recs[0].Time.After(recs[1].Time) {
		t.Fatalf("records not in newest-first order: %s then %s", recs[0].Time, recs[1].Time)
	}

	recs, err = s.List(ctx, t0.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("list limit: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("limit returned %d records, want 2", len(recs))
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Fatalf("count = %d, want 5", n)
	}
}
