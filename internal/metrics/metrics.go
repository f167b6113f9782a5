// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package metrics provides Prometheus instrumentation for the streaming
// detector: ingestion throughput, buffer occupancy, detection-cycle latency
// and failure classification.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	PacketsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtseis_packets_ingested_total",
			Help: "Total number of sample packets appended to the buffer",
		},
		[]string{"channel"},
	)

	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtseis_packets_dropped_total",
			Help: "Total number of malformed packets dropped at ingestion",
		},
		[]string{"channel"},
	)

	WavebankWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtseis_wavebank_write_errors_total",
			Help: "Total number of failed best-effort wavebank mirror writes",
		},
	)

	BufferSpanSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtseis_buffer_span_seconds",
			Help: "Longest buffered data span across channels",
		},
	)

	BufferChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtseis_buffer_channels",
			Help: "Number of channels currently held in the buffer",
		},
	)

	// Detection metrics
	DetectionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rtseis_detection_cycle_duration_seconds",
			Help:    "Duration of one snapshot-detect-handle cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}, // Cycles can take minutes
		},
	)

	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtseis_detections_total",
			Help: "Total number of newly handled detections",
		},
		[]string{"template"},
	)

	DetectionsDeclustered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rtseis_detections_declustered_total",
			Help: "Total number of detections suppressed by declustering",
		},
	)

	DetectionSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtseis_detection_set_size",
			Help: "Detections currently retained in the running set",
		},
	)

	DetectIntervalSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rtseis_detect_interval_seconds",
			Help: "Current adaptive detection interval",
		},
	)

	EngineFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtseis_engine_failures_total",
			Help: "Detection-engine failures by class",
		},
		[]string{"class"},
	)

	// Backfill metrics
	BackfillErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rtseis_backfill_errors_total",
			Help: "Per-channel backfill failures (logged and skipped)",
		},
		[]string{"channel"},
	)
)
