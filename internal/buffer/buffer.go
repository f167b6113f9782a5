// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package buffer implements the bounded multi-channel sample store that sits
// between the streaming client and the detection scheduler.
//
// Each channel keeps a time-windowed run of samples anchored at its newest
// sample: the window covers at most the configured capacity, and appending
// data beyond it evicts the oldest samples for that channel only (per-channel
// FIFO). Gaps are kept as masked slots so a snapshot is always a contiguous,
// gap-consolidated view.
//
// Concurrency: a single writer (the streaming client) appends while any
// number of readers take snapshots. Appends and snapshots for one channel
// serialize on a short per-channel lock; a snapshot never observes a
// half-written packet.
package buffer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rtseis/rtseis/internal/waveform"
)

// Buffer is the bounded multi-channel sample store.
type Buffer struct {
	capacity time.Duration

	mu       sync.RWMutex
	channels map[waveform.ChannelID]*channelBuffer
}

// New creates a buffer retaining at most capacity of data per channel.
func New(capacity time.Duration) *Buffer {
	return &Buffer{
		capacity: capacity,
		channels: make(map[waveform.ChannelID]*channelBuffer),
	}
}

// Capacity returns the per-channel retention duration.
func (b *Buffer) Capacity() time.Duration { return b.capacity }

// Append inserts a packet into its channel's window, merging out-of-order
// and overlapping data (new samples win) and evicting from the front once
// the channel exceeds capacity. Malformed packets are rejected with an
// error; the caller logs and drops them, ingestion continues.
func (b *Buffer) Append(p waveform.Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	cb, ok := b.channels[p.Channel]
	if !ok {
		cb = newChannelBuffer(p.Channel, p.Delta, b.capacity)
		b.channels[p.Channel] = cb
	}
	b.mu.Unlock()

	return cb.add(&p)
}

// Snapshot returns an immutable, merged copy of every channel's current
// data. Appends after Snapshot returns do not mutate the result.
func (b *Buffer) Snapshot() waveform.Stream {
	b.mu.RLock()
	chans := make([]*channelBuffer, 0, len(b.channels))
	for _, cb := range b.channels {
		chans = append(chans, cb)
	}
	b.mu.RUnlock()

	st := waveform.Stream{Traces: make([]waveform.Packet, 0, len(chans))}
	for _, cb := range chans {
		if p, ok := cb.snapshot(); ok {
			st.Traces = append(st.Traces, p)
		}
	}
	return st
}

// Select returns a copy of one channel's current data.
func (b *Buffer) Select(id waveform.ChannelID) (waveform.Packet, bool) {
	b.mu.RLock()
	cb, ok := b.channels[id]
	b.mu.RUnlock()
	if !ok {
		return waveform.Packet{}, false
	}
	return cb.snapshot()
}

// Earliest returns the timestamp of a channel's oldest retained sample.
func (b *Buffer) Earliest(id waveform.ChannelID) (time.Time, bool) {
	b.mu.RLock()
	cb, ok := b.channels[id]
	b.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.samples) == 0 {
		return time.Time{}, false
	}
	return cb.start(), true
}

// ChannelCount returns the number of channels currently tracked.
func (b *Buffer) ChannelCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels)
}

// IsFull reports whether every tracked channel's span has reached capacity.
// An empty buffer is not full.
func (b *Buffer) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.channels) == 0 {
		return false
	}
	for _, cb := range b.channels {
		cb.mu.Lock()
		full := len(cb.samples) >= cb.maxSamples
		cb.mu.Unlock()
		if !full {
			return false
		}
	}
	return true
}

// MaxSpan returns the longest current data span across channels, or zero
// when the buffer is empty.
func (b *Buffer) MaxSpan() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var span time.Duration
	for _, cb := range b.channels {
		cb.mu.Lock()
		s := time.Duration(len(cb.samples)) * cb.delta
		cb.mu.Unlock()
		if s > span {
			span = s
		}
	}
	return span
}

// Clear drops all buffered data, keeping the capacity.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = make(map[waveform.ChannelID]*channelBuffer)
}

// channelBuffer is one channel's window: a right-aligned run of samples
// whose last slot is at time end. Slots before the first received sample
// and inside gaps are masked.
type channelBuffer struct {
	mu sync.Mutex

	id         waveform.ChannelID
	delta      time.Duration
	maxSamples int

	end     time.Time
	samples []float64
	mask    []bool

	// shared marks the backing arrays as referenced by an outstanding
	// snapshot; the writer copies them before its next mutation.
	shared bool
}

func newChannelBuffer(id waveform.ChannelID, delta time.Duration, capacity time.Duration) *channelBuffer {
	maxSamples := int(capacity / delta)
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &channelBuffer{id: id, delta: delta, maxSamples: maxSamples}
}

// start returns the timestamp of the first retained slot.
// Callers must hold mu and have checked len(samples) > 0.
func (cb *channelBuffer) start() time.Time {
	return cb.end.Add(-time.Duration(len(cb.samples)-1) * cb.delta)
}

func (cb *channelBuffer) add(p *waveform.Packet) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if p.Delta != cb.delta {
		return fmt.Errorf("buffer: %s sample interval changed from %s to %s", cb.id, cb.delta, p.Delta)
	}
	cb.detach()

	if len(cb.samples) == 0 {
		cb.end = p.End()
		cb.samples = make([]float64, len(p.Samples))
		cb.mask = make([]bool, len(p.Samples))
		copy(cb.samples, p.Samples)
		if p.Mask != nil {
			copy(cb.mask, p.Mask)
		}
		cb.trimFront()
		return nil
	}

	// Extend right with masked slots when the packet carries newer data.
	if p.End().After(cb.end) {
		k := slots(p.End().Sub(cb.end), cb.delta)
		cb.samples = append(cb.samples, make([]float64, k)...)
		grown := append(cb.mask, make([]bool, k)...)
		for i := len(cb.mask); i < len(grown); i++ {
			grown[i] = true
		}
		cb.mask = grown
		cb.end = p.End()
	}

	// Extend left when the packet carries data older than the window start
	// but still within capacity. This is the backfill path: historical data
	// arriving after live streaming began fills the slots before it.
	if len(cb.samples) < cb.maxSamples && p.Start.Before(cb.start()) {
		need := slots(cb.start().Sub(p.Start), cb.delta)
		if room := cb.maxSamples - len(cb.samples); need > room {
			need = room
		}
		if need > 0 {
			pre := make([]float64, need, need+len(cb.samples))
			cb.samples = append(pre, cb.samples...)
			preMask := make([]bool, need, need+len(cb.mask))
			for i := range preMask {
				preMask[i] = true
			}
			cb.mask = append(preMask, cb.mask...)
		}
	}

	// Write packet samples into window positions; new data wins on overlap,
	// data older than the window is dropped.
	last := len(cb.samples) - 1
	headOffset := slots(cb.end.Sub(p.Start), cb.delta)
	for j := range p.Samples {
		if p.Mask != nil && p.Mask[j] {
			continue
		}
		if math.IsNaN(p.Samples[j]) {
			continue
		}
		idx := last - headOffset + j
		if idx < 0 || idx > last {
			continue
		}
		cb.samples[idx] = p.Samples[j]
		cb.mask[idx] = false
	}

	cb.trimFront()
	return nil
}

// detach replaces the backing arrays when a snapshot still references them,
// so snapshot readers never observe writer mutations. Callers must hold mu.
func (cb *channelBuffer) detach() {
	if !cb.shared {
		return
	}
	cb.samples = append([]float64(nil), cb.samples...)
	cb.mask = append([]bool(nil), cb.mask...)
	cb.shared = false
}

// trimFront evicts the oldest slots until the window fits maxSamples.
// Callers must hold mu.
func (cb *channelBuffer) trimFront() {
	if n := len(cb.samples) - cb.maxSamples; n > 0 {
		cb.samples = cb.samples[n:]
		cb.mask = cb.mask[n:]
	}
}

// snapshot copies the window into an immutable packet. Fully masked leading
// slots are trimmed so the packet starts at real data.
//
// Only slice headers are captured under the lock; the sample copy happens
// outside it so the hold time stays constant regardless of window size. The
// writer detaches from the shared arrays before its next mutation.
func (cb *channelBuffer) snapshot() (waveform.Packet, bool) {
	cb.mu.Lock()
	lo := 0
	for lo < len(cb.mask) && cb.mask[lo] {
		lo++
	}
	if lo == len(cb.samples) {
		cb.mu.Unlock()
		return waveform.Packet{}, false
	}
	samples := cb.samples
	mask := cb.mask
	end := cb.end
	cb.shared = true
	cb.mu.Unlock()

	p := waveform.Packet{
		Channel: cb.id,
		Start:   end.Add(-time.Duration(len(samples)-1-lo) * cb.delta),
		Delta:   cb.delta,
		Samples: append([]float64(nil), samples[lo:]...),
	}
	for _, m := range mask[lo:] {
		if m {
			p.Mask = append([]bool(nil), mask[lo:]...)
			break
		}
	}
	return p, true
}

// slots converts a duration to a whole number of sample intervals,
// rounding to cope with sub-interval clock jitter in packet timestamps.
func slots(d, delta time.Duration) int {
	return int(math.Round(float64(d) / float64(delta)))
}
