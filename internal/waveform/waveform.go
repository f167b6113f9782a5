// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package waveform defines the sample-data model shared by the buffer,
// streaming clients, wavebank and detection scheduler: channel identifiers,
// sample packets and merged multi-channel streams.
//
// A Packet is a contiguous run of evenly sampled values for one channel.
// Gaps inside a packet are carried in an optional mask rather than dropped,
// so downstream consumers can distinguish "no data" from "zero amplitude".
// Packets are immutable once appended to a buffer.
package waveform

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ChannelID is a 4-part SEED-style channel key: network.station.location.channel.
// The location code may be empty ("NZ.WEL..HHZ" is valid).
type ChannelID string

// ParseChannelID validates a 4-part channel key.
func ParseChannelID(s string) (ChannelID, error) {
	if strings.Count(s, ".") != 3 {
		return "", fmt.Errorf("invalid channel id %q: want network.station.location.channel", s)
	}
	return ChannelID(s), nil
}

// Parts splits the id into network, station, location and channel codes.
func (id ChannelID) Parts() (network, station, location, channel string) {
	parts := strings.SplitN(string(id), ".", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2], parts[3]
}

// String returns the 4-part key.
func (id ChannelID) String() string { return string(id) }

// Validation errors for incoming packets.
var (
	ErrEmptyPacket   = errors.New("waveform: packet has no samples")
	ErrNoSignal      = errors.New("waveform: packet contains no finite samples")
	ErrBadInterval   = errors.New("waveform: non-positive sample interval")
	ErrMaskLength    = errors.New("waveform: mask length does not match samples")
	ErrChannelFormat = errors.New("waveform: malformed channel id")
)

// Packet is a contiguous run of samples for one channel.
type Packet struct {
	// Channel identifies the originating sensor stream.
	Channel ChannelID `json:"channel"`

	// Start is the timestamp of the first sample.
	Start time.Time `json:"start"`

	// Delta is the sample interval.
	Delta time.Duration `json:"delta"`

	// Samples holds the ordered sample values.
	Samples []float64 `json:"samples"`

	// Mask marks missing samples (true = gap). Nil means no gaps.
	// When non-nil it has the same length as Samples.
	Mask []bool `json:"mask,omitempty"`
}

// Validate reports whether the packet is usable. Zero-length packets,
// packets with a non-positive sample interval, mismatched masks and packets
// whose every sample is NaN or masked are rejected.
func (p *Packet) Validate() error {
	if _, err := ParseChannelID(string(p.Channel)); err != nil {
		return ErrChannelFormat
	}
	if len(p.Samples) == 0 {
		return ErrEmptyPacket
	}
	if p.Delta <= 0 {
		return ErrBadInterval
	}
	if p.Mask != nil && len(p.Mask) != len(p.Samples) {
		return ErrMaskLength
	}
	if p.SampleCount() == 0 {
		return ErrNoSignal
	}
	return nil
}

// End is the timestamp of the last sample.
func (p *Packet) End() time.Time {
	if len(p.Samples) == 0 {
		return p.Start
	}
	return p.Start.Add(time.Duration(len(p.Samples)-1) * p.Delta)
}

// Span is the data duration covered by the packet, counting every sample
// slot (masked or not) as one interval.
func (p *Packet) Span() time.Duration {
	return time.Duration(len(p.Samples)) * p.Delta
}

// SampleCount returns the number of present (unmasked, finite) samples.
func (p *Packet) SampleCount() int {
	n := 0
	for i, v := range p.Samples {
		if p.Mask != nil && p.Mask[i] {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		n++
	}
	return n
}

// HasGaps reports whether any sample slot is masked.
func (p *Packet) HasGaps() bool {
	for _, m := range p.Mask {
		if m {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the packet.
func (p *Packet) Clone() Packet {
	out := Packet{Channel: p.Channel, Start: p.Start, Delta: p.Delta}
	out.Samples = append([]float64(nil), p.Samples...)
	if p.Mask != nil {
		out.Mask = append([]bool(nil), p.Mask...)
	}
	return out
}

// Slice returns the portion of the packet within [start, end], inclusive on
// both sample boundaries. An empty packet is returned when the window does
// not intersect the packet.
func (p *Packet) Slice(start, end time.Time) Packet {
	out := Packet{Channel: p.Channel, Delta: p.Delta}
	if len(p.Samples) == 0 || end.Before(p.Start) || start.After(p.End()) {
		return out
	}
	lo := 0
	if start.After(p.Start) {
		lo = int((start.Sub(p.Start) + p.Delta - 1) / p.Delta)
	}
	hi := len(p.Samples) - 1
	if end.Before(p.End()) {
		hi = int(end.Sub(p.Start) / p.Delta)
	}
	if lo > hi {
		return out
	}
	out.Start = p.Start.Add(time.Duration(lo) * p.Delta)
	out.Samples = append([]float64(nil), p.Samples[lo:hi+1]...)
	if p.Mask != nil {
		out.Mask = append([]bool(nil), p.Mask[lo:hi+1]...)
	}
	return out
}

// Merge combines packets for a single channel into one gap-consolidated
// packet. Later packets win on overlap. All packets must share the channel
// and sample interval.
func Merge(packets []Packet) (Packet, error) {
	if len(packets) == 0 {
		return Packet{}, ErrEmptyPacket
	}
	base := packets[0]
	start, end := base.Start, base.End()
	for i := 1; i < len(packets); i++ {
		p := &packets[i]
		if p.Channel != base.Channel {
			return Packet{}, fmt.Errorf("waveform: merge across channels %s and %s", base.Channel, p.Channel)
		}
		if p.Delta != base.Delta {
			return Packet{}, fmt.Errorf("waveform: merge with mixed sample intervals %s and %s", base.Delta, p.Delta)
		}
		if p.Start.Before(start) {
			start = p.Start
		}
		if p.End().After(end) {
			end = p.End()
		}
	}

	n := int(end.Sub(start)/base.Delta) + 1
	out := Packet{
		Channel: base.Channel,
		Start:   start,
		Delta:   base.Delta,
		Samples: make([]float64, n),
		Mask:    make([]bool, n),
	}
	for i := range out.Mask {
		out.Mask[i] = true
	}
	for i := range packets {
		p := &packets[i]
		offset := int(p.Start.Sub(start) / base.Delta)
		for j, v := range p.Samples {
			if p.Mask != nil && p.Mask[j] {
				continue
			}
			out.Samples[offset+j] = v
			out.Mask[offset+j] = false
		}
	}
	if !out.HasGaps() {
		out.Mask = nil
	}
	return out, nil
}

// Stream is a merged multi-channel view: at most one packet per channel,
// each already gap-consolidated.
type Stream struct {
	Traces []Packet `json:"traces"`
}

// Stream's accessors use value receivers so they can be called directly on
// returned values (e.g. buffer snapshots) without a temporary.

// Get returns the trace for a channel.
func (s Stream) Get(id ChannelID) (Packet, bool) {
	for i := range s.Traces {
		if s.Traces[i].Channel == id {
			return s.Traces[i], true
		}
	}
	return Packet{}, false
}

// Channels lists the channel ids present in the stream.
func (s Stream) Channels() []ChannelID {
	out := make([]ChannelID, 0, len(s.Traces))
	for i := range s.Traces {
		out = append(out, s.Traces[i].Channel)
	}
	return out
}

// Earliest returns the earliest trace start, or the zero time when empty.
func (s Stream) Earliest() time.Time {
	var t time.Time
	for i := range s.Traces {
		if t.IsZero() || s.Traces[i].Start.Before(t) {
			t = s.Traces[i].Start
		}
	}
	return t
}

// Latest returns the latest trace end, or the zero time when empty.
func (s Stream) Latest() time.Time {
	var t time.Time
	for i := range s.Traces {
		if end := s.Traces[i].End(); end.After(t) {
			t = end
		}
	}
	return t
}

// Trim returns a stream with every trace sliced to [start, end]. Traces left
// empty by the window are dropped.
func (s Stream) Trim(start, end time.Time) Stream {
	out := Stream{Traces: make([]Packet, 0, len(s.Traces))}
	for i := range s.Traces {
		tr := s.Traces[i].Slice(start, end)
		if len(tr.Samples) > 0 {
			out.Traces = append(out.Traces, tr)
		}
	}
	return out
}

// Filter returns a stream containing only traces accepted by keep.
func (s Stream) Filter(keep func(*Packet) bool) Stream {
	out := Stream{Traces: make([]Packet, 0, len(s.Traces))}
	for i := range s.Traces {
		if keep(&s.Traces[i]) {
			out.Traces = append(out.Traces, s.Traces[i])
		}
	}
	return out
}
