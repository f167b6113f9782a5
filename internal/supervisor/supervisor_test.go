// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/streaming"
	"github.com/rtseis/rtseis/internal/waveform"
)

type fakeRunner struct {
	err   error
	calls atomic.Int64
}

func (r *fakeRunner) Run(ctx context.Context) error {
	r.calls.Add(1)
	if r.err != nil {
		return r.err
	}
	return nil
}

// gatedRunner completes its run only once the gate closes.
type gatedRunner struct {
	gate <-chan struct{}
}

func (r *gatedRunner) Run(ctx context.Context) error {
	select {
	case <-r.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeClient struct {
	runErr error
}

func (c *fakeClient) Select(waveform.ChannelID) error { return nil }
func (c *fakeClient) CanAddChannels() bool            { return true }
func (c *fakeClient) Buffer() *buffer.Buffer          { return nil }
func (c *fakeClient) Streaming() bool                 { return false }
func (c *fakeClient) LastData() time.Time             { return time.Time{} }
func (c *fakeClient) BackgroundRun() error            { return nil }
func (c *fakeClient) BackgroundStop()                 {}

func (c *fakeClient) Run(ctx context.Context) error {
	if c.runErr != nil {
		return c.runErr
	}
	return nil
}

func TestServiceName(t *testing.T) {
	svc := NewService("http-server", func(context.Context) error { return nil })
	if got := svc.String(); got != "http-server" {
		t.Fatalf("name = %q, want http-server", got)
	}
}

func TestDetectorServiceCleanStopLeavesSupervision(t *testing.T) {
	svc := NewDetectorService(&fakeRunner{}, nil)
	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("clean stop returned %v, want ErrDoNotRestart", err)
	}
}

func TestDetectorServiceExitHookFiresOnceOnTerminalExit(t *testing.T) {
	var exits atomic.Int64
	svc := NewDetectorService(&fakeRunner{}, func() { exits.Add(1) })

	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("clean stop returned %v, want ErrDoNotRestart", err)
	}
	_ = svc.Serve(context.Background())
	if got := exits.Load(); got != 1 {
		t.Fatalf("exit hook fired %d times, want exactly 1", got)
	}

	exits.Store(0)
	fatal := detect.NewFatal(errors.New("correlation core: out of memory"))
	svc = NewDetectorService(&fakeRunner{err: fatal}, func() { exits.Add(1) })
	if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("fatal exit returned %v, want ErrDoNotRestart", err)
	}
	if got := exits.Load(); got != 1 {
		t.Fatalf("exit hook fired %d times on fatal exit, want exactly 1", got)
	}
}

func TestDetectorServiceExitHookSkippedOnRestartableOutcomes(t *testing.T) {
	var exits atomic.Int64

	svc := NewDetectorService(&fakeRunner{err: errors.New("transient startup failure")}, func() { exits.Add(1) })
	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("retryable error swallowed")
	}

	svc = NewDetectorService(&fakeRunner{err: context.Canceled}, func() { exits.Add(1) })
	if err := svc.Serve(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation returned %v", err)
	}

	if got := exits.Load(); got != 0 {
		t.Fatalf("exit hook fired %d times on restartable outcomes, want 0", got)
	}
}

func TestDetectorServiceFatalErrorNotRestarted(t *testing.T) {
	fatal := detect.NewFatal(errors.New("correlation core: out of memory"))
	svc := NewDetectorService(&fakeRunner{err: fatal}, nil)

	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("fatal error returned %v, want ErrDoNotRestart", err)
	}
	var de *detect.Error
	if !errors.As(err, &de) {
		t.Fatalf("original error not preserved in %v", err)
	}
}

func TestDetectorServiceRetryableErrorRestarts(t *testing.T) {
	svc := NewDetectorService(&fakeRunner{err: errors.New("transient startup failure")}, nil)
	err := svc.Serve(context.Background())
	if err == nil || errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("retryable error returned %v, want plain error", err)
	}
}

func TestDetectorServicePropagatesCancellation(t *testing.T) {
	svc := NewDetectorService(&fakeRunner{err: context.Canceled}, nil)
	err := svc.Serve(context.Background())
	if !errors.Is(err, context.Canceled) || errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("cancellation returned %v", err)
	}
}

func TestIngestServiceReplayCompletionLeavesSupervision(t *testing.T) {
	svc := NewIngestService(&fakeClient{})
	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("finished replay returned %v, want ErrDoNotRestart", err)
	}
}

func TestIngestServiceParksWhenClientAlreadyRunning(t *testing.T) {
	svc := NewIngestService(&fakeClient{runErr: streaming.ErrAlreadyStreaming})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("service returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("parked service returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service never returned after cancel")
	}
}

func TestIngestServicePropagatesTransportErrors(t *testing.T) {
	svc := NewIngestService(&fakeClient{runErr: errors.New("connection reset")})
	err := svc.Serve(context.Background())
	if err == nil || errors.Is(err, suture.ErrDoNotRestart) {
		t.Fatalf("transport error returned %v, want plain error", err)
	}
}

func TestTreeServesAndStopsOnCancel(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	started := make(chan struct{})
	tree.AddServeService(NewService("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("service never started")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("tree stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), TreeConfig{
		FailureThreshold: 100,
		FailureDecay:     30,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	var runs atomic.Int64
	tree.AddIngestService(NewService("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("first run fails")
		}
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(5 * time.Second)
	for runs.Load() < 2 {
		select {
		case err := <-errCh:
			t.Fatalf("tree stopped early: %v", err)
		case <-deadline:
			t.Fatalf("service restarted %d times, want >= 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestDetectorExitRetiresCoupledServeService(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	// A broadcaster-style service that parks until removed.
	started := make(chan struct{})
	stopped := make(chan struct{})
	token := tree.AddServeService(NewService("coupled-view", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}))

	// The detector finishes only after the coupled service is up, so the
	// removal never races its startup.
	tree.AddDetectService(NewDetectorService(&gatedRunner{gate: started}, func() {
		if err := tree.RemoveServeService(token); err != nil {
			t.Errorf("remove coupled service: %v", err)
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	select {
	case <-started:
	case err := <-errCh:
		t.Fatalf("tree stopped: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("coupled service never started")
	}

	// The detector's clean exit must stop the coupled service while the
	// tree keeps serving.
	select {
	case <-stopped:
	case err := <-errCh:
		t.Fatalf("tree stopped: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("coupled service kept running after the detector left")
	}

	select {
	case err := <-errCh:
		t.Fatalf("tree stopped after detector exit: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestDetectorServiceLeavesTreeRunning(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}

	runner := &fakeRunner{}
	tree.AddDetectService(NewDetectorService(runner, nil))

	alive := make(chan struct{})
	tree.AddServeService(NewService("alive", func(ctx context.Context) error {
		close(alive)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	select {
	case <-alive:
	case err := <-errCh:
		t.Fatalf("tree stopped: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve layer never started")
	}

	// The detector completing must not bring the tree down.
	deadline := time.After(time.Second)
	for runner.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("detector never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case err := <-errCh:
		t.Fatalf("tree stopped after detector completion: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}
