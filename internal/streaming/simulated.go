// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package streaming

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/wavebank"
	"github.com/rtseis/rtseis/internal/waveform"
)

// SimulatedConfig configures a replay client.
type SimulatedConfig struct {
	// Source supplies the archived waveforms to replay.
	Source Source

	// Buffer receives the replayed packets.
	Buffer *buffer.Buffer

	// Bank, when set, mirrors replayed packets like a live client would.
	Bank *wavebank.Bank

	// StartAt is the archive time replay begins from.
	StartAt time.Time

	// EndAt, when set, stops replay once the cursor passes it. Zero means
	// replay until cancelled.
	EndAt time.Time

	// QueryInterval is the archive-time span fetched per query. Defaults to
	// 10 seconds.
	QueryInterval time.Duration

	// SpeedUp scales replay faster than real time. 1 replays in real time;
	// 60 replays an hour per minute. Defaults to 1.
	SpeedUp float64

	// Jitter adds a random delay of up to this duration before each packet
	// is delivered, imitating network arrival scatter.
	Jitter time.Duration
}

// SimulatedClient replays archived waveforms as if they were arriving live.
// Used for drills, scheduler testing and replaying past sequences.
type SimulatedClient struct {
	core

	source        Source
	startAt       time.Time
	endAt         time.Time
	queryInterval time.Duration
	speedUp       float64
	jitter        time.Duration
}

var _ Client = (*SimulatedClient)(nil)

// NewSimulated creates a replay client.
func NewSimulated(cfg SimulatedConfig) (*SimulatedClient, error) {
	if cfg.Source == nil {
		return nil, errors.New("streaming: simulated client needs a source")
	}
	if cfg.Buffer == nil {
		return nil, errors.New("streaming: simulated client needs a buffer")
	}
	if cfg.StartAt.IsZero() {
		return nil, errors.New("streaming: simulated client needs a start time")
	}
	if cfg.QueryInterval <= 0 {
		cfg.QueryInterval = 10 * time.Second
	}
	if cfg.SpeedUp <= 0 {
		cfg.SpeedUp = 1
	}
	return &SimulatedClient{
		core:          newCore(cfg.Buffer, cfg.Bank),
		source:        cfg.Source,
		startAt:       cfg.StartAt,
		endAt:         cfg.EndAt,
		queryInterval: cfg.QueryInterval,
		speedUp:       cfg.SpeedUp,
		jitter:        cfg.Jitter,
	}, nil
}

// CanAddChannels reports true: replay subscriptions can change mid-run.
func (c *SimulatedClient) CanAddChannels() bool { return true }

// SpeedUp returns the configured replay acceleration.
func (c *SimulatedClient) SpeedUp() float64 { return c.speedUp }

// Run replays from the source until the context is cancelled or the replay
// window is exhausted.
func (c *SimulatedClient) Run(ctx context.Context) error {
	if !c.streaming.CompareAndSwap(false, true) {
		return ErrAlreadyStreaming
	}
	defer c.streaming.Store(false)
	return c.run(ctx)
}

// BackgroundRun starts the replay on a goroutine.
func (c *SimulatedClient) BackgroundRun() error {
	return c.backgroundRun(c.run)
}

func (c *SimulatedClient) run(ctx context.Context) error {
	c.startMirror()
	defer c.stopMirror()

	// One query per wall-clock queryInterval/speedUp.
	wallInterval := time.Duration(float64(c.queryInterval) / c.speedUp)
	if wallInterval < time.Millisecond {
		wallInterval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(wallInterval), 1)

	logging.Info().
		Time("start_at", c.startAt).
		Dur("query_interval", c.queryInterval).
		Float64("speed_up", c.speedUp).
		Msg("Starting simulated replay")

	cursor := c.startAt
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		next := cursor.Add(c.queryInterval)
		for _, id := range c.channels() {
			packets, err := c.source.GetWaveform(id, cursor, next.Add(-time.Nanosecond))
			if errors.Is(err, wavebank.ErrNoData) {
				continue
			}
			if err != nil {
				logging.Warn().Err(err).Str("channel", string(id)).Msg("Replay query failed")
				continue
			}
			for _, p := range packets {
				if err := c.deliver(ctx, p); err != nil {
					return nil
				}
			}
		}
		cursor = next

		if !c.endAt.IsZero() && !cursor.Before(c.endAt) {
			logging.Info().Time("end_at", c.endAt).Msg("Simulated replay exhausted")
			return nil
		}
	}
}

// deliver hands one packet to the ingestion core after the configured jitter.
func (c *SimulatedClient) deliver(ctx context.Context, p waveform.Packet) error {
	if c.jitter > 0 {
		d := time.Duration(rand.Int64N(int64(c.jitter)))
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.onData(p)
	return nil
}

// Copy returns a fresh, unconnected replay client with the same
// configuration and subscriptions. When emptyBuffer is true the copy
// starts with an empty buffer of the same capacity; otherwise the current
// buffer contents are carried over.
func (c *SimulatedClient) Copy(emptyBuffer bool) (*SimulatedClient, error) {
	buf := buffer.New(c.buf.Capacity())
	if !emptyBuffer {
		for _, tr := range c.buf.Snapshot().Traces {
			if err := buf.Append(tr); err != nil {
				return nil, err
			}
		}
	}
	cp, err := NewSimulated(SimulatedConfig{
		Source:        c.source,
		Buffer:        buf,
		Bank:          c.bank,
		StartAt:       c.startAt,
		EndAt:         c.endAt,
		QueryInterval: c.queryInterval,
		SpeedUp:       c.speedUp,
		Jitter:        c.jitter,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range c.channels() {
		if err := cp.Select(id); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// String identifies the client in logs.
func (c *SimulatedClient) String() string {
	return fmt.Sprintf("simulated(start=%s, speedup=%g)", c.startAt.Format(time.RFC3339), c.speedUp)
}
