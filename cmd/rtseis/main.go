// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package main is the entry point for the RTSeis detection service.
//
// RTSeis runs a matched-filter earthquake detector over streaming waveform
// data: an ingestion client fills a rolling per-channel buffer, a scheduler
// snapshots the buffer at an adaptive cadence and hands the window to the
// detection engine, and new detections are declustered, persisted to the
// catalog and published as alerts.
//
// # Application Architecture
//
// The service initializes components in the following order:
//
//  1. Configuration: layered loading from defaults, YAML file and
//     environment variables (Koanf v2)
//  2. Wavebank: BadgerDB waveform archive (replay source and backfill)
//  3. Streaming client: simulated replay of archived data
//  4. Catalog: DuckDB detection store plus on-disk waveform snippets
//  5. Notifier: in-process pub/sub, or NATS JetStream with the nats tag
//  6. Visualization: WebSocket hub and periodic waveform broadcaster
//  7. Scheduler: the detection loop controller
//  8. HTTP server: health, status, detections, templates, /metrics
//
// Everything runs under a Suture supervisor tree with three layers
// (ingest, detect, serve) so a crash in one layer restarts only that layer.
//
// # Build Tags
//
//	go build -tags "nats" ./cmd/rtseis  # Enable the NATS JetStream notifier
//
// # Signal Handling
//
// The service handles graceful shutdown on SIGINT and SIGTERM: the
// supervisor tree is cancelled, the scheduler stops its ingestion client,
// and the HTTP server drains in-flight requests (10s timeout).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/rtseis/rtseis/internal/api"
	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/catalog"
	"github.com/rtseis/rtseis/internal/config"
	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/notify"
	"github.com/rtseis/rtseis/internal/scheduler"
	"github.com/rtseis/rtseis/internal/streaming"
	"github.com/rtseis/rtseis/internal/supervisor"
	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/visual"
	"github.com/rtseis/rtseis/internal/wavebank"
	"github.com/rtseis/rtseis/internal/waveform"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mode", cfg.Streaming.Mode).
		Dur("buffer_capacity", cfg.Buffer.Capacity).
		Dur("detect_interval", cfg.Detector.DetectInterval).
		Msg("Starting RTSeis")

	templates, err := loadTemplates(cfg.Detector.TemplatesPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Detector.TemplatesPath).
			Msg("Failed to load templates")
	}
	if len(templates) == 0 {
		logging.Warn().Msg("Starting without templates; add them via POST /api/v1/templates")
	}

	buf := buffer.New(cfg.Buffer.Capacity)

	// The wavebank doubles as the replay archive and the backfill source.
	var bank *wavebank.Bank
	if cfg.Wavebank.Enabled && cfg.Wavebank.Path != "" {
		bank, err = wavebank.Open(cfg.Wavebank.Path)
	} else {
		bank, err = wavebank.OpenInMemory()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open wavebank")
	}
	defer func() {
		if err := bank.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing wavebank")
		}
	}()

	client, err := buildClient(cfg, buf, bank)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create streaming client")
	}

	store, err := catalog.Open(context.Background(), cfg.Catalog.DatabasePath, cfg.Catalog.DetectDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open detection catalog")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog")
		}
	}()

	notifier, sub, err := buildNotifier(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create notifier")
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing notifier")
		}
	}()

	var hub *visual.Hub
	var broadcaster *visual.Broadcaster
	if cfg.Visual.Enabled {
		hub = visual.NewHub()
		exclude := make([]waveform.ChannelID, 0, len(cfg.Visual.ExcludeChannels))
		for _, id := range cfg.Visual.ExcludeChannels {
			exclude = append(exclude, waveform.ChannelID(id))
		}
		broadcaster = visual.NewBroadcaster(hub, buf, visual.BroadcasterConfig{
			Interval:            cfg.Visual.Interval,
			MaxPointsPerChannel: cfg.Visual.MaxPointsPerChannel,
			ExcludeChannels:     exclude,
		})
	}

	backfillTo, err := cfg.Detector.BackfillTime()
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid backfill time")
	}

	sched, err := scheduler.New(scheduler.Config{
		DetectInterval:  cfg.Detector.DetectInterval,
		MaxRunLength:    cfg.Detector.MaxRunLength,
		KeepDetections:  cfg.Detector.KeepDetections,
		MinimumRate:     cfg.Detector.MinimumRate,
		MaximumBackfill: cfg.Detector.MaximumBackfill,
		BackfillTo:      backfillTo,
		SpeedUp:         cfg.Streaming.SpeedUp,
		Params: detect.Params{
			Threshold:     cfg.Detector.Threshold,
			ThresholdType: cfg.Detector.ThresholdType,
			TrigInterval:  cfg.Detector.TrigInterval,
		},
		DetectDir: cfg.Catalog.DetectDir,
	}, scheduler.Deps{
		Client: client,
		Engine: newEngine(),
		// Repeatedly failing backfill reads trip the breaker so cycles
		// proceed without backfill instead of hammering a broken archive.
		Backfill: streaming.NewResilientSource(bank, "wavebank-backfill"),
		Bank:     bank,
		Store:    store,
		Notifier: notifier,
	}, templates...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	srv := api.NewServer(api.Config{
		Addr:              cfg.Server.Addr,
		AllowedOrigins:    cfg.Server.CORSOrigins,
		RateLimitDisabled: cfg.Server.RateLimitDisabled,
		WriteTimeout:      cfg.Server.Timeout,
	}, sched, store, hub)

	// Bridge zerolog to slog for sutureslog compatibility.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddIngestService(supervisor.NewIngestService(client))
	tree.AddServeService(supervisor.NewRunnerService("http-server", srv))

	// The broadcaster follows the detector: when the run ends for good, the
	// live waveform view stops with it. The hub stays up so connected
	// clients keep their alert feed.
	var detectorExit func()
	if hub != nil {
		tree.AddServeService(supervisor.NewRunnerService("visual-hub", hub))
		broadcasterToken := tree.AddServeService(supervisor.NewRunnerService("waveform-broadcaster", broadcaster))
		detectorExit = func() {
			if err := tree.RemoveServeService(broadcasterToken); err != nil {
				logging.Warn().Err(err).Msg("Failed to stop waveform broadcaster")
			}
		}
		if sub != nil {
			tree.AddServeService(supervisor.NewService("alert-relay", func(ctx context.Context) error {
				return visual.ForwardAlerts(ctx, hub, sub)
			}))
		}
	}
	tree.AddDetectService(supervisor.NewDetectorService(sched, detectorExit))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished).
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Shutdown complete")
}

// buildClient creates the ingestion client for the configured mode. Only
// the simulated replay transport ships; live transports register under
// their own mode names.
func buildClient(cfg *config.Config, buf *buffer.Buffer, bank *wavebank.Bank) (streaming.Client, error) {
	switch cfg.Streaming.Mode {
	case "simulated":
		startAt, err := cfg.Streaming.StartTime()
		if err != nil {
			return nil, err
		}
		if startAt.IsZero() {
			return nil, errors.New("simulated replay requires streaming.start_at")
		}
		endAt, err := cfg.Streaming.EndTime()
		if err != nil {
			return nil, err
		}
		return streaming.NewSimulated(streaming.SimulatedConfig{
			Source:        bank,
			Buffer:        buf,
			StartAt:       startAt,
			EndAt:         endAt,
			QueryInterval: cfg.Streaming.QueryInterval,
			SpeedUp:       cfg.Streaming.SpeedUp,
			Jitter:        cfg.Streaming.Jitter,
		})
	default:
		return nil, fmt.Errorf("unknown streaming mode %q", cfg.Streaming.Mode)
	}
}

// buildNotifier creates the alert publisher. The in-process transport also
// returns a subscriber so the visualization hub can relay alerts; the NATS
// transport delivers alerts to external consumers instead.
func buildNotifier(cfg *config.Config) (*notify.Notifier, message.Subscriber, error) {
	switch cfg.Notify.Transport {
	case "inprocess":
		notifier, gochan := notify.NewInProcess()
		return notifier, gochan, nil
	case "nats":
		notifier, err := notify.NewNATS(notify.NATSConfig{
			URL:           cfg.Notify.URL,
			MaxReconnects: cfg.Notify.MaxReconnects,
			ReconnectWait: cfg.Notify.ReconnectWait,
		})
		if err != nil {
			return nil, nil, err
		}
		return notifier, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown notify transport %q", cfg.Notify.Transport)
	}
}

// loadTemplates reads the initial template set from a JSON file: an array
// of objects with name, channels and process_length fields.
func loadTemplates(path string) ([]template.Template, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var templates []template.Template
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	for i := range templates {
		if err := templates[i].Validate(); err != nil {
			return nil, err
		}
	}
	return templates, nil
}
