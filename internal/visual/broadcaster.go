// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package visual

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/rtseis/rtseis/internal/buffer"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/notify"
	"github.com/rtseis/rtseis/internal/waveform"
)

// ChannelFrame is one channel's downsampled trace in a waveform broadcast.
type ChannelFrame struct {
	Channel string    `json:"channel"`
	Start   time.Time `json:"start"`
	Delta   float64   `json:"delta_seconds"`
	Samples []float64 `json:"samples"`
}

// WaveformFrame is the periodic multi-channel payload.
type WaveformFrame struct {
	At       time.Time      `json:"at"`
	Channels []ChannelFrame `json:"channels"`
}

// BroadcasterConfig configures the periodic waveform broadcaster.
type BroadcasterConfig struct {
	// Interval between waveform frames. Defaults to 2 seconds.
	Interval time.Duration

	// MaxPointsPerChannel caps samples per channel per frame; longer traces
	// are decimated. Defaults to 1200.
	MaxPointsPerChannel int

	// ExcludeChannels are hidden from the visualization (e.g. noisy test
	// channels) without affecting detection.
	ExcludeChannels []waveform.ChannelID
}

// Broadcaster periodically snapshots the buffer and pushes downsampled
// frames to the hub.
type Broadcaster struct {
	hub      *Hub
	buf      *buffer.Buffer
	interval time.Duration
	maxPts   int
	exclude  map[waveform.ChannelID]struct{}
}

// NewBroadcaster creates a waveform broadcaster over a hub and buffer.
func NewBroadcaster(hub *Hub, buf *buffer.Buffer, cfg BroadcasterConfig) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.MaxPointsPerChannel <= 0 {
		cfg.MaxPointsPerChannel = 1200
	}
	exclude := make(map[waveform.ChannelID]struct{}, len(cfg.ExcludeChannels))
	for _, id := range cfg.ExcludeChannels {
		exclude[id] = struct{}{}
	}
	return &Broadcaster{
		hub:      hub,
		buf:      buf,
		interval: cfg.Interval,
		maxPts:   cfg.MaxPointsPerChannel,
		exclude:  exclude,
	}
}

// Run broadcasts frames until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if b.hub.ClientCount() == 0 {
				continue
			}
			b.hub.Broadcast(MessageTypeWaveforms, b.frame())
		}
	}
}

// frame snapshots the buffer into a downsampled multi-channel payload.
func (b *Broadcaster) frame() WaveformFrame {
	st := b.buf.Snapshot()
	frame := WaveformFrame{At: time.Now().UTC(), Channels: make([]ChannelFrame, 0, len(st.Traces))}

	for i := range st.Traces {
		tr := &st.Traces[i]
		if _, skip := b.exclude[tr.Channel]; skip {
			continue
		}
		frame.Channels = append(frame.Channels, downsample(tr, b.maxPts))
	}
	return frame
}

// downsample decimates a trace to at most maxPts samples. Masked slots are
// flattened to zero; JSON cannot carry NaN.
func downsample(tr *waveform.Packet, maxPts int) ChannelFrame {
	stride := 1
	if len(tr.Samples) > maxPts {
		stride = (len(tr.Samples) + maxPts - 1) / maxPts
	}

	out := make([]float64, 0, len(tr.Samples)/stride+1)
	for i := 0; i < len(tr.Samples); i += stride {
		if tr.Mask != nil && tr.Mask[i] {
			out = append(out, 0)
			continue
		}
		out = append(out, tr.Samples[i])
	}
	return ChannelFrame{
		Channel: string(tr.Channel),
		Start:   tr.Start,
		Delta:   (time.Duration(stride) * tr.Delta).Seconds(),
		Samples: out,
	}
}

// ForwardAlerts subscribes to the alert topics and relays them to websocket
// clients until the context is cancelled.
func ForwardAlerts(ctx context.Context, hub *Hub, sub message.Subscriber) error {
	detections, err := sub.Subscribe(ctx, notify.TopicDetections)
	if err != nil {
		return err
	}
	statuses, err := sub.Subscribe(ctx, notify.TopicStatus)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-detections:
			if !ok {
				return nil
			}
			relay(hub, MessageTypeDetection, msg)
		case msg, ok := <-statuses:
			if !ok {
				return nil
			}
			relay(hub, MessageTypeStatus, msg)
		}
	}
}

func relay(hub *Hub, messageType string, msg *message.Message) {
	var data map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &data); err != nil {
		logging.Warn().Err(err).Str("message_type", messageType).Msg("Failed to decode alert for relay")
		msg.Ack()
		return
	}
	hub.Broadcast(messageType, data)
	msg.Ack()
}
