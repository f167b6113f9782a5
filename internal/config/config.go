// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package config loads and validates the detector's configuration from
// layered sources: built-in defaults, an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration.
type Config struct {
	Streaming StreamingConfig `koanf:"streaming"`
	Buffer    BufferConfig    `koanf:"buffer"`
	Wavebank  WavebankConfig  `koanf:"wavebank"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Detector  DetectorConfig  `koanf:"detector"`
	Notify    NotifyConfig    `koanf:"notify"`
	Visual    VisualConfig    `koanf:"visual"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// StreamingConfig configures the waveform ingestion client.
type StreamingConfig struct {
	// Mode selects the transport. Only the simulated replay transport
	// ships; live transports register under their own mode names.
	Mode string `koanf:"mode" validate:"oneof=simulated"`

	// StartAt and EndAt bound a simulated replay (RFC3339). Empty EndAt
	// replays until stopped.
	StartAt string `koanf:"start_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndAt   string `koanf:"end_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	// QueryInterval is the simulated data-time step per poll.
	QueryInterval time.Duration `koanf:"query_interval" validate:"gt=0"`

	// SpeedUp scales replay faster than real time. 1 is real time.
	SpeedUp float64 `koanf:"speed_up" validate:"gt=0"`

	// Jitter adds up to this much random delivery delay per poll.
	Jitter time.Duration `koanf:"jitter" validate:"min=0"`
}

// BufferConfig configures the in-memory waveform window.
type BufferConfig struct {
	// Capacity is the rolling window length per channel.
	Capacity time.Duration `koanf:"capacity" validate:"gt=0"`
}

// WavebankConfig configures the durable waveform mirror.
type WavebankConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path is the on-disk store location. Empty with Enabled uses an
	// in-memory store (tests, ephemeral runs).
	Path string `koanf:"path"`
}

// CatalogConfig configures detection persistence.
type CatalogConfig struct {
	// DatabasePath is the duckdb file. ":memory:" for ephemeral runs.
	DatabasePath string `koanf:"database_path" validate:"required"`

	// DetectDir is the root for waveform snippet files.
	DetectDir string `koanf:"detect_dir" validate:"required"`
}

// DetectorConfig configures the detection scheduler.
type DetectorConfig struct {
	// TemplatesPath, when set, loads the initial template set from a JSON
	// file at startup. Templates can also be added at runtime via the API.
	TemplatesPath string `koanf:"templates_path"`

	// DetectInterval is the starting cadence between detection cycles.
	DetectInterval time.Duration `koanf:"detect_interval" validate:"gt=0"`

	// MaxRunLength stops the detector after this run time. Zero runs
	// until stopped.
	MaxRunLength time.Duration `koanf:"max_run_length" validate:"min=0"`

	// KeepDetections is the retention window of the running detection set.
	KeepDetections time.Duration `koanf:"keep_detections" validate:"gt=0"`

	// MinimumRate, detections per hour, stops the detector when the
	// observed rate falls below it. Zero disables.
	MinimumRate float64 `koanf:"minimum_rate" validate:"min=0"`

	// MaximumBackfill bounds the historical scan for runtime-added
	// templates. Zero scans the whole archive.
	MaximumBackfill time.Duration `koanf:"maximum_backfill" validate:"min=0"`

	// BackfillTo, when set (RFC3339), reconciles pre-stream gaps from
	// this time at startup.
	BackfillTo string `koanf:"backfill_to" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`

	// Threshold and ThresholdType are handed to the detection engine.
	Threshold     float64 `koanf:"threshold" validate:"gt=0"`
	ThresholdType string  `koanf:"threshold_type" validate:"oneof=MAD absolute av_chan"`

	// TrigInterval is the minimum inter-detection time and declustering
	// window.
	TrigInterval time.Duration `koanf:"trig_interval" validate:"gt=0"`
}

// NotifyConfig configures the alert publisher.
type NotifyConfig struct {
	// Transport is "inprocess" or "nats" (requires the nats build tag).
	Transport string `koanf:"transport" validate:"oneof=inprocess nats"`

	// URL is the NATS server address when Transport is "nats".
	URL string `koanf:"url" validate:"omitempty,url"`

	MaxReconnects int           `koanf:"max_reconnects" validate:"min=0"`
	ReconnectWait time.Duration `koanf:"reconnect_wait" validate:"min=0"`
}

// VisualConfig configures the live-view broadcaster.
type VisualConfig struct {
	Enabled bool `koanf:"enabled"`

	// Interval between waveform frames.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`

	// MaxPointsPerChannel caps frame size; longer traces are decimated.
	MaxPointsPerChannel int `koanf:"max_points_per_channel" validate:"gt=0"`

	// ExcludeChannels are hidden from the view without affecting
	// detection.
	ExcludeChannels []string `koanf:"exclude_channels"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required"`

	// CORSOrigins allows cross-origin dashboards. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins"`

	RateLimitDisabled bool `koanf:"rate_limit_disabled"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns the built-in defaults, overridden by file and env layers.
func Default() *Config {
	return &Config{
		Streaming: StreamingConfig{
			Mode:          "simulated",
			QueryInterval: 10 * time.Second,
			SpeedUp:       1,
		},
		Buffer: BufferConfig{
			Capacity: 10 * time.Minute,
		},
		Wavebank: WavebankConfig{
			Enabled: true,
			Path:    "/data/wavebank",
		},
		Catalog: CatalogConfig{
			DatabasePath: "/data/detections.duckdb",
			DetectDir:    "/data/detections",
		},
		Detector: DetectorConfig{
			DetectInterval: 60 * time.Second,
			KeepDetections: 24 * time.Hour,
			Threshold:      8,
			ThresholdType:  "MAD",
			TrigInterval:   2 * time.Second,
		},
		Notify: NotifyConfig{
			Transport:     "inprocess",
			URL:           "nats://127.0.0.1:4222",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Visual: VisualConfig{
			Enabled:             true,
			Interval:            2 * time.Second,
			MaxPointsPerChannel: 1200,
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	start, err := c.Streaming.StartTime()
	if err != nil {
		return err
	}
	end, err := c.Streaming.EndTime()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return fmt.Errorf("config: streaming.end_at must be after streaming.start_at")
	}
	return nil
}

// StartTime parses StartAt, zero when unset.
func (s *StreamingConfig) StartTime() (time.Time, error) {
	return parseTime("streaming.start_at", s.StartAt)
}

// EndTime parses EndAt, zero when unset.
func (s *StreamingConfig) EndTime() (time.Time, error) {
	return parseTime("streaming.end_at", s.EndAt)
}

// BackfillTime parses BackfillTo, zero when unset.
func (d *DetectorConfig) BackfillTime() (time.Time, error) {
	return parseTime("detector.backfill_to", d.BackfillTo)
}

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: %s: %w", field, err)
	}
	return t, nil
}
