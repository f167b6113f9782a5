// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/thejerf/suture/v4"

	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/streaming"
)

// Runner is anything with a blocking, context-aware Run method. The
// streaming client, scheduler, HTTP server, hub and broadcaster all
// satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// Service adapts a named run function to suture.Service. The name shows
// up in supervisor event logs.
type Service struct {
	name string
	run  func(context.Context) error
}

// NewService wraps a run function as a supervised service.
func NewService(name string, run func(context.Context) error) *Service {
	return &Service{name: name, run: run}
}

// NewRunnerService wraps a Runner as a supervised service.
func NewRunnerService(name string, r Runner) *Service {
	return &Service{name: name, run: r.Run}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String implements fmt.Stringer for supervisor event logs.
func (s *Service) String() string { return s.name }

// DetectorService supervises the detection scheduler. The scheduler has
// terminal outcomes a plain restart loop must not undo: a clean return
// means a stop condition fired, and a fatal engine failure (memory
// exhaustion) must not be retried. Both are mapped to
// suture.ErrDoNotRestart so the rest of the tree keeps serving.
//
// onExit, when set, fires once when the detector leaves supervision for
// good. It lets the caller retire services coupled to the detection run,
// such as the live waveform broadcaster.
type DetectorService struct {
	runner   Runner
	onExit   func()
	exitOnce sync.Once
}

// NewDetectorService wraps the scheduler for supervision. onExit may be nil.
func NewDetectorService(r Runner, onExit func()) *DetectorService {
	return &DetectorService{runner: r, onExit: onExit}
}

// Serve implements suture.Service.
func (s *DetectorService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	switch {
	case err == nil:
		// Stop condition reached; the run is complete.
		logging.Info().Msg("Detector run complete, leaving supervision")
		s.exit()
		return suture.ErrDoNotRestart
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	case detect.Classify(err) == detect.Fatal:
		logging.Error().Err(err).Msg("Detector failed fatally, not restarting")
		s.exit()
		return errors.Join(err, suture.ErrDoNotRestart)
	default:
		return err
	}
}

func (s *DetectorService) exit() {
	if s.onExit == nil {
		return
	}
	s.exitOnce.Do(s.onExit)
}

// String implements fmt.Stringer for supervisor event logs.
func (s *DetectorService) String() string { return "detector" }

// IngestService supervises the streaming client. The scheduler may have
// already started the client itself; in that case this service parks until
// shutdown instead of fighting over the run loop. A clean return means a
// bounded replay finished and must not be restarted from the top.
type IngestService struct {
	client streaming.Client
}

// NewIngestService wraps the streaming client for supervision.
func NewIngestService(c streaming.Client) *IngestService {
	return &IngestService{client: c}
}

// Serve implements suture.Service.
func (s *IngestService) Serve(ctx context.Context) error {
	err := s.client.Run(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		logging.Info().Msg("Ingestion run complete, leaving supervision")
		return suture.ErrDoNotRestart
	case errors.Is(err, streaming.ErrAlreadyStreaming):
		<-ctx.Done()
		return ctx.Err()
	default:
		return err
	}
}

// String implements fmt.Stringer for supervisor event logs.
func (s *IngestService) String() string { return "waveform-ingest" }
