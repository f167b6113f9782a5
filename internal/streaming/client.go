// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package streaming provides the ingestion clients that feed the waveform
// buffer: the client contract shared by all transports, a simulated replay
// client for drills and testing, and a circuit-breaker wrapper for backfill
// sources.
//
// Clients push packets through a shared core that appends to the buffer,
// mirrors to the wavebank without ever blocking ingestion, and tracks
// streaming state. The detection scheduler only sees the Client interface.
package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/metrics"
	"github.com/rtseis/rtseis/internal/wavebank"
	"github.com/rtseis/rtseis/internal/waveform"
)

// ErrAlreadyStreaming is returned when a background run is started twice.
var ErrAlreadyStreaming = errors.New("streaming: client already running")

// mirrorQueueSize bounds the async wavebank write queue. When the wavebank
// cannot keep up, mirror writes are dropped rather than stalling ingestion.
const mirrorQueueSize = 256

// Source provides historical waveform data for backfill: the wavebank, a
// remote data centre client, or a replay archive.
type Source interface {
	GetWaveform(id waveform.ChannelID, start, end time.Time) ([]waveform.Packet, error)
}

// Client is the ingestion contract the scheduler depends on.
type Client interface {
	// Select subscribes the client to a channel. Callable before or, when
	// CanAddChannels reports true, during streaming.
	Select(id waveform.ChannelID) error

	// CanAddChannels reports whether Select works while streaming.
	CanAddChannels() bool

	// Buffer returns the buffer this client fills.
	Buffer() *buffer.Buffer

	// Streaming reports whether a run loop is active.
	Streaming() bool

	// LastData returns the wall-clock time data last arrived.
	LastData() time.Time

	// Run streams until the context is cancelled.
	Run(ctx context.Context) error

	// BackgroundRun starts Run on a goroutine.
	BackgroundRun() error

	// BackgroundStop halts a background run and waits for it to finish.
	// No data callbacks fire after it returns. Idempotent.
	BackgroundStop()
}

// core is the transport-independent half of a streaming client: channel
// subscription, buffer appends, wavebank mirroring and run lifecycle.
// Concrete clients embed it and implement the transport loop.
type core struct {
	buf  *buffer.Buffer
	bank *wavebank.Bank

	mu       sync.Mutex
	selected map[waveform.ChannelID]struct{}

	streaming atomic.Bool
	lastData  atomic.Int64

	mirrorCh chan waveform.Packet
	mirrorWG sync.WaitGroup

	cancel context.CancelFunc
	runWG  sync.WaitGroup
}

func newCore(buf *buffer.Buffer, bank *wavebank.Bank) core {
	return core{
		buf:      buf,
		bank:     bank,
		selected: make(map[waveform.ChannelID]struct{}),
	}
}

func (c *core) Buffer() *buffer.Buffer { return c.buf }

func (c *core) Streaming() bool { return c.streaming.Load() }

func (c *core) LastData() time.Time {
	ns := c.lastData.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *core) Select(id waveform.ChannelID) error {
	if _, err := waveform.ParseChannelID(string(id)); err != nil {
		return err
	}
	c.mu.Lock()
	c.selected[id] = struct{}{}
	c.mu.Unlock()
	return nil
}

// channels returns the current subscription set.
func (c *core) channels() []waveform.ChannelID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]waveform.ChannelID, 0, len(c.selected))
	for id := range c.selected {
		out = append(out, id)
	}
	return out
}

// onData is the single entry point for arriving packets. Malformed packets
// are logged and dropped; good packets land in the buffer and are queued for
// the wavebank mirror.
func (c *core) onData(p waveform.Packet) {
	if err := c.buf.Append(p); err != nil {
		metrics.PacketsDropped.WithLabelValues(string(p.Channel)).Inc()
		logging.Warn().Err(err).Str("channel", string(p.Channel)).Msg("Dropped malformed packet")
		return
	}
	c.lastData.Store(time.Now().UnixNano())
	metrics.PacketsIngested.WithLabelValues(string(p.Channel)).Inc()
	metrics.BufferSpanSeconds.Set(c.buf.MaxSpan().Seconds())
	metrics.BufferChannels.Set(float64(c.buf.ChannelCount()))

	if c.mirrorCh != nil {
		select {
		case c.mirrorCh <- p:
		default:
			metrics.WavebankWriteErrors.Inc()
			logging.Debug().Str("channel", string(p.Channel)).Msg("Wavebank mirror queue full, packet not mirrored")
		}
	}
}

// startMirror launches the async wavebank writer for one run. No-op when the
// client has no wavebank.
func (c *core) startMirror() {
	if c.bank == nil {
		return
	}
	c.mirrorCh = make(chan waveform.Packet, mirrorQueueSize)
	c.mirrorWG.Add(1)
	go func() {
		defer c.mirrorWG.Done()
		for p := range c.mirrorCh {
			if err := c.bank.Put(p); err != nil {
				metrics.WavebankWriteErrors.Inc()
				logging.Warn().Err(err).Str("channel", string(p.Channel)).Msg("Wavebank mirror write failed")
			}
		}
	}()
}

// stopMirror drains and stops the wavebank writer.
func (c *core) stopMirror() {
	if c.mirrorCh == nil {
		return
	}
	close(c.mirrorCh)
	c.mirrorWG.Wait()
	c.mirrorCh = nil
}

// backgroundRun starts run on a goroutine. The run function must return when
// its context is cancelled.
func (c *core) backgroundRun(run func(ctx context.Context) error) error {
	if !c.streaming.CompareAndSwap(false, true) {
		return ErrAlreadyStreaming
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.runWG.Add(1)
	go func() {
		defer c.runWG.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Streaming run loop exited with error")
		}
	}()
	return nil
}

// BackgroundStop cancels the background run and joins it. Safe to call
// multiple times and when no run is active.
func (c *core) BackgroundStop() {
	if !c.streaming.Load() {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.runWG.Wait()
	c.streaming.Store(false)
}
