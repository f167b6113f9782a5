// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package waveform

import (
	"errors"
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 2, 14, 6, 30, 0, 0, time.UTC)

const testChannel = ChannelID("NZ.WEL.10.HHZ")

// packet builds a 1 Hz packet with samples 0..n-1.
func packet(start time.Time, n int) Packet {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = float64(i)
	}
	return Packet{Channel: testChannel, Start: start, Delta: time.Second, Samples: samples}
}

func TestParseChannelID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"NZ.WEL.10.HHZ", false},
		{"NZ.WEL..HHZ", false}, // empty location code is valid
		{"NZ.WEL.HHZ", true},
		{"", true},
		{"NZ.WEL.10.HHZ.X", true},
	}
	for _, tc := range tests {
		_, err := ParseChannelID(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseChannelID(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
	}
}

func TestChannelIDParts(t *testing.T) {
	net, sta, loc, cha := testChannel.Parts()
	if net != "NZ" || sta != "WEL" || loc != "10" || cha != "HHZ" {
		t.Fatalf("Parts = %q %q %q %q", net, sta, loc, cha)
	}
}

func TestPacketValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		want error
	}{
		{"valid", packet(t0, 5), nil},
		{"bad channel", Packet{Channel: "nope", Start: t0, Delta: time.Second, Samples: []float64{1}}, ErrChannelFormat},
		{"empty", Packet{Channel: testChannel, Start: t0, Delta: time.Second}, ErrEmptyPacket},
		{"zero delta", Packet{Channel: testChannel, Start: t0, Samples: []float64{1}}, ErrBadInterval},
		{"mask mismatch", Packet{Channel: testChannel, Start: t0, Delta: time.Second, Samples: []float64{1, 2}, Mask: []bool{false}}, ErrMaskLength},
		{"all NaN", Packet{Channel: testChannel, Start: t0, Delta: time.Second, Samples: []float64{math.NaN(), math.NaN()}}, ErrNoSignal},
		{"all masked", Packet{Channel: testChannel, Start: t0, Delta: time.Second, Samples: []float64{1, 2}, Mask: []bool{true, true}}, ErrNoSignal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPacketEndSpanSampleCount(t *testing.T) {
	p := packet(t0, 60)
	if want := t0.Add(59 * time.Second); !p.End().Equal(want) {
		t.Fatalf("End = %s, want %s", p.End(), want)
	}
	if p.Span() != time.Minute {
		t.Fatalf("Span = %s, want 1m", p.Span())
	}

	p.Mask = make([]bool, 60)
	p.Mask[3] = true
	p.Samples[7] = math.NaN()
	if got := p.SampleCount(); got != 58 {
		t.Fatalf("SampleCount = %d, want 58", got)
	}
}

func TestSliceBoundaries(t *testing.T) {
	p := packet(t0, 10)

	// Inclusive on both exact sample boundaries.
	got := p.Slice(t0.Add(2*time.Second), t0.Add(5*time.Second))
	if len(got.Samples) != 4 || got.Samples[0] != 2 || got.Samples[3] != 5 {
		t.Fatalf("exact slice = %v", got.Samples)
	}
	if !got.Start.Equal(t0.Add(2 * time.Second)) {
		t.Fatalf("slice start = %s", got.Start)
	}

	// Off-grid window: start rounds up, end rounds down.
	got = p.Slice(t0.Add(1500*time.Millisecond), t0.Add(4500*time.Millisecond))
	if len(got.Samples) != 3 || got.Samples[0] != 2 || got.Samples[2] != 4 {
		t.Fatalf("off-grid slice = %v", got.Samples)
	}

	// Disjoint window yields an empty packet.
	if got = p.Slice(t0.Add(time.Hour), t0.Add(2*time.Hour)); len(got.Samples) != 0 {
		t.Fatalf("disjoint slice = %v", got.Samples)
	}

	// Window wider than the packet returns the whole packet.
	if got = p.Slice(t0.Add(-time.Hour), t0.Add(time.Hour)); len(got.Samples) != 10 {
		t.Fatalf("containing slice = %v", got.Samples)
	}
}

func TestMergeGapConsolidation(t *testing.T) {
	a := packet(t0, 3)
	b := packet(t0.Add(5*time.Second), 3)

	merged, err := Merge([]Packet{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Samples) != 8 {
		t.Fatalf("merged length = %d, want 8", len(merged.Samples))
	}
	if !merged.HasGaps() {
		t.Fatal("gap between packets not masked")
	}
	if !merged.Mask[3] || !merged.Mask[4] {
		t.Fatalf("mask = %v, want slots 3-4 masked", merged.Mask)
	}
	if merged.Mask[0] || merged.Mask[5] {
		t.Fatalf("mask = %v, data slots masked", merged.Mask)
	}
}

func TestMergeOverlapLaterWins(t *testing.T) {
	a := packet(t0, 5)
	b := Packet{Channel: testChannel, Start: t0.Add(3 * time.Second), Delta: time.Second,
		Samples: []float64{100, 101, 102}}

	merged, err := Merge([]Packet{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Samples[3] != 100 || merged.Samples[4] != 101 || merged.Samples[5] != 102 {
		t.Fatalf("overlap not overwritten: %v", merged.Samples)
	}
	if merged.HasGaps() {
		t.Fatal("contiguous merge kept a mask")
	}
	if merged.Mask != nil {
		t.Fatal("gapless merge should drop the mask")
	}
}

func TestMergeRejectsMixedChannelsAndIntervals(t *testing.T) {
	a := packet(t0, 3)
	other := a.Clone()
	other.Channel = "NZ.BFZ.10.HHZ"
	if _, err := Merge([]Packet{a, other}); err == nil {
		t.Fatal("merge across channels accepted")
	}

	fast := a.Clone()
	fast.Delta = 500 * time.Millisecond
	if _, err := Merge([]Packet{a, fast}); err == nil {
		t.Fatal("merge with mixed intervals accepted")
	}

	if _, err := Merge(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Fatalf("empty merge err = %v, want ErrEmptyPacket", err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := packet(t0, 3)
	p.Mask = []bool{false, true, false}
	cp := p.Clone()
	cp.Samples[0] = 99
	cp.Mask[0] = true
	if p.Samples[0] == 99 || p.Mask[0] {
		t.Fatal("Clone shares backing arrays")
	}
}

func TestStreamTrimAndBounds(t *testing.T) {
	s := Stream{Traces: []Packet{
		packet(t0, 60),
		{Channel: "NZ.BFZ.10.HHZ", Start: t0.Add(30 * time.Second), Delta: time.Second,
			Samples: make([]float64, 60)},
	}}

	if !s.Earliest().Equal(t0) {
		t.Fatalf("Earliest = %s, want %s", s.Earliest(), t0)
	}
	if want := t0.Add(89 * time.Second); !s.Latest().Equal(want) {
		t.Fatalf("Latest = %s, want %s", s.Latest(), want)
	}

	trimmed := s.Trim(t0.Add(70*time.Second), t0.Add(90*time.Second))
	if len(trimmed.Traces) != 1 {
		t.Fatalf("trim kept %d traces, want 1", len(trimmed.Traces))
	}
	if trimmed.Traces[0].Channel != "NZ.BFZ.10.HHZ" {
		t.Fatalf("wrong trace survived trim: %s", trimmed.Traces[0].Channel)
	}

	if _, ok := s.Get(testChannel); !ok {
		t.Fatal("Get missed an existing channel")
	}
	if _, ok := s.Get("XX.XXX.00.XXX"); ok {
		t.Fatal("Get found a missing channel")
	}
}

func TestStreamAccessorsOnReturnedValue(t *testing.T) {
	// Accessors must be callable directly on a returned Stream, the way
	// callers chain them on buffer snapshots.
	build := func() Stream {
		return Stream{Traces: []Packet{packet(t0, 10)}}
	}

	if want := t0.Add(9 * time.Second); !build().Latest().Equal(want) {
		t.Fatalf("Latest on returned stream = %s, want %s", build().Latest(), want)
	}
	if !build().Earliest().Equal(t0) {
		t.Fatalf("Earliest on returned stream = %s, want %s", build().Earliest(), t0)
	}
	if got := build().Trim(t0, t0.Add(4*time.Second)); len(got.Traces) != 1 || len(got.Traces[0].Samples) != 5 {
		t.Fatalf("Trim on returned stream = %+v", got.Traces)
	}
	if got := build().Channels(); len(got) != 1 || got[0] != testChannel {
		t.Fatalf("Channels on returned stream = %v", got)
	}
	if _, ok := build().Get(testChannel); !ok {
		t.Fatal("Get on returned stream missed the channel")
	}
	if got := build().Filter(func(p *Packet) bool { return false }); len(got.Traces) != 0 {
		t.Fatalf("Filter on returned stream kept %d traces", len(got.Traces))
	}
}

func TestStreamFilter(t *testing.T) {
	s := Stream{Traces: []Packet{packet(t0, 10), packet(t0, 100)}}
	long := s.Filter(func(p *Packet) bool { return p.Span() >= time.Minute })
	if len(long.Traces) != 1 || len(long.Traces[0].Samples) != 100 {
		t.Fatalf("filter kept %d traces", len(long.Traces))
	}
}
