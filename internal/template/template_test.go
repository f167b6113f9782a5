// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package template

import (
	"testing"
	"time"

	"github.com/rtseis/rtseis/internal/waveform"
)

const (
	chanA = waveform.ChannelID("NZ.WEL.10.HHZ")
	chanB = waveform.ChannelID("NZ.BFZ.10.HHZ")
)

func valid(name string, channels ...waveform.ChannelID) Template {
	return Template{Name: name, Channels: channels, ProcessLength: time.Minute}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    Template
		wantErr bool
	}{
		{"valid", valid("T1", chanA), false},
		{"empty name", Template{Channels: []waveform.ChannelID{chanA}, ProcessLength: time.Minute}, true},
		{"no channels", Template{Name: "T1", ProcessLength: time.Minute}, true},
		{"zero process length", Template{Name: "T1", Channels: []waveform.ChannelID{chanA}}, true},
		{"negative process length", Template{Name: "T1", Channels: []waveform.ChannelID{chanA}, ProcessLength: -time.Second}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tmpl.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestCollectionSetSemantics(t *testing.T) {
	c := NewCollection(valid("T1", chanA), valid("T2", chanB))

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	// Duplicate names are dropped, first wins.
	dup := valid("T1", chanB)
	if added := c.Add(dup, valid("T3", chanA)); added != 1 {
		t.Fatalf("Add = %d, want 1", added)
	}
	got, ok := c.Get("T1")
	if !ok || got.Channels[0] != chanA {
		t.Fatalf("duplicate Add replaced T1: %+v", got)
	}

	names := c.Names()
	want := []string{"T1", "T2", "T3"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}

	if _, ok := c.Get("T9"); ok {
		t.Fatal("Get returned a template for an unknown name")
	}
}

func TestCollectionChannelsSortedUnion(t *testing.T) {
	c := NewCollection(valid("T1", chanA, chanB), valid("T2", chanB))

	chans := c.Channels()
	if len(chans) != 2 {
		t.Fatalf("Channels = %v, want 2 unique ids", chans)
	}
	if chans[0] != chanB || chans[1] != chanA {
		// NZ.BFZ sorts before NZ.WEL.
		t.Fatalf("Channels not sorted: %v", chans)
	}
}

func TestMaxProcessLength(t *testing.T) {
	c := NewCollection(
		Template{Name: "short", Channels: []waveform.ChannelID{chanA}, ProcessLength: 30 * time.Second},
		Template{Name: "long", Channels: []waveform.ChannelID{chanA}, ProcessLength: 2 * time.Minute},
	)
	if got := c.MaxProcessLength(); got != 2*time.Minute {
		t.Fatalf("MaxProcessLength = %s, want 2m", got)
	}
	if got := NewCollection().MaxProcessLength(); got != 0 {
		t.Fatalf("empty collection MaxProcessLength = %s, want 0", got)
	}
}

func TestTemplatesReturnsCopy(t *testing.T) {
	c := NewCollection(valid("T1", chanA))
	tmpls := c.Templates()
	tmpls[0].Name = "mutated"
	if got, _ := c.Get("T1"); got.Name != "T1" {
		t.Fatal("Templates exposed internal storage")
	}
}
