// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rtseis/config.yaml",
	"/etc/rtseis/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. Defaults
//  2. Optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables are skipped so unrelated environment noise cannot
// pollute the configuration.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		// Streaming
		"stream_mode":           "streaming.mode",
		"stream_start_at":       "streaming.start_at",
		"stream_end_at":         "streaming.end_at",
		"stream_query_interval": "streaming.query_interval",
		"stream_speed_up":       "streaming.speed_up",
		"stream_jitter":         "streaming.jitter",

		// Buffer
		"buffer_capacity": "buffer.capacity",

		// Wavebank
		"wavebank_enabled": "wavebank.enabled",
		"wavebank_path":    "wavebank.path",

		// Catalog
		"catalog_db_path":    "catalog.database_path",
		"catalog_detect_dir": "catalog.detect_dir",

		// Detector
		"templates_path":   "detector.templates_path",
		"detect_interval":  "detector.detect_interval",
		"max_run_length":   "detector.max_run_length",
		"keep_detections":  "detector.keep_detections",
		"minimum_rate":     "detector.minimum_rate",
		"maximum_backfill": "detector.maximum_backfill",
		"backfill_to":      "detector.backfill_to",
		"threshold":        "detector.threshold",
		"threshold_type":   "detector.threshold_type",
		"trig_interval":    "detector.trig_interval",

		// Notify
		"notify_transport":    "notify.transport",
		"nats_url":            "notify.url",
		"nats_max_reconnects": "notify.max_reconnects",
		"nats_reconnect_wait": "notify.reconnect_wait",

		// Visual
		"visual_enabled":          "visual.enabled",
		"visual_interval":         "visual.interval",
		"visual_max_points":       "visual.max_points_per_channel",
		"visual_exclude_channels": "visual.exclude_channels",

		// Server
		"http_addr":          "server.addr",
		"http_timeout":       "server.timeout",
		"cors_origins":       "server.cors_origins",
		"disable_rate_limit": "server.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
