// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package detect defines the boundary to the external matched-filter engine
// and the detection working set the scheduler maintains: detections grouped
// per template family, trigger-interval declustering and keep-duration
// eviction. The correlation numerics live behind the Engine interface and
// are not part of this package.
package detect

import (
	"context"
	"sort"
	"time"

	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/waveform"
)

// Params carries the per-run detection parameters handed to the engine.
type Params struct {
	// Threshold is the detection threshold value.
	Threshold float64

	// ThresholdType names how the threshold is applied (e.g. "MAD",
	// "absolute"). Interpreted by the engine.
	ThresholdType string

	// TrigInterval is the minimum inter-detection time; also the
	// declustering window.
	TrigInterval time.Duration
}

// Engine is the external pattern-matching engine boundary. Given a windowed
// multi-channel stream and a set of templates it returns candidate
// detections grouped per template family. Implementations may return typed
// *Error values to classify failures; anything else is classified by
// Classify.
type Engine interface {
	Detect(ctx context.Context, st waveform.Stream, templates []template.Template, p Params) ([]Group, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, st waveform.Stream, templates []template.Template, p Params) ([]Group, error)

// Detect implements Engine.
func (f EngineFunc) Detect(ctx context.Context, st waveform.Stream, templates []template.Template, p Params) ([]Group, error) {
	return f(ctx, st, templates, p)
}

// Pick is a per-channel arrival time attached to a detection.
type Pick struct {
	Channel waveform.ChannelID `json:"channel"`
	Time    time.Time          `json:"time"`
}

// Detection is one candidate match of a template against buffered data.
type Detection struct {
	// Template names the matching template family.
	Template string `json:"template"`

	// Time is the detection (origin) timestamp, used as the clustering key.
	Time time.Time `json:"time"`

	// CorSum is the accumulated cross-channel correlation sum, the score
	// metric used by declustering.
	CorSum float64 `json:"cor_sum"`

	// Threshold is the threshold value in effect when the engine fired.
	Threshold float64 `json:"threshold"`

	// Picks holds per-channel pick times.
	Picks []Pick `json:"picks"`

	// Event is the computed event summary, attached when the detection is
	// folded into the running set.
	Event *EventSummary `json:"event,omitempty"`
}

// EventSummary is the lightweight event description computed for each
// detection when it is handled.
type EventSummary struct {
	Origin       time.Time `json:"origin"`
	MedianPick   time.Time `json:"median_pick"`
	ChannelCount int       `json:"channel_count"`
}

// Summarize computes the detection's event summary from its picks.
func (d *Detection) Summarize() *EventSummary {
	s := &EventSummary{Origin: d.Time, ChannelCount: len(d.Picks)}
	if len(d.Picks) == 0 {
		s.MedianPick = d.Time
		return s
	}
	times := make([]time.Time, len(d.Picks))
	for i, p := range d.Picks {
		times[i] = p.Time
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	s.MedianPick = times[len(times)/2]
	return s
}

// Group is the per-template family of detections.
type Group struct {
	Template   string
	Detections []*Detection
}

// Party is the running detection set: one group per template family.
// It is owned by a single scheduler instance and is not safe for concurrent
// use; the scheduler's cycle lock serializes access.
type Party struct {
	groups map[string]*Group
}

// NewParty creates an empty detection set.
func NewParty() *Party {
	return &Party{groups: make(map[string]*Group)}
}

// Merge folds new candidate groups into the set.
func (p *Party) Merge(groups []Group) {
	for i := range groups {
		g := &groups[i]
		if len(g.Detections) == 0 {
			continue
		}
		dst, ok := p.groups[g.Template]
		if !ok {
			dst = &Group{Template: g.Template}
			p.groups[g.Template] = dst
		}
		dst.Detections = append(dst.Detections, g.Detections...)
	}
}

// Decluster suppresses near-duplicate detections: within each template
// family, when two or more detections fall inside one trigger interval of
// each other only the highest-CorSum one is kept. Idempotent.
func (p *Party) Decluster(trigInt time.Duration) {
	for _, g := range p.groups {
		g.Detections = declusterGroup(g.Detections, trigInt)
	}
}

// declusterGroup keeps, in score order, every detection that is not within
// trigInt of an already-kept one, then restores time order.
func declusterGroup(dets []*Detection, trigInt time.Duration) []*Detection {
	if len(dets) < 2 {
		return dets
	}
	byScore := append([]*Detection(nil), dets...)
	sort.SliceStable(byScore, func(i, j int) bool {
		if byScore[i].CorSum != byScore[j].CorSum {
			return byScore[i].CorSum > byScore[j].CorSum
		}
		return byScore[i].Time.Before(byScore[j].Time)
	})

	kept := make([]*Detection, 0, len(byScore))
	for _, d := range byScore {
		suppressed := false
		for _, k := range kept {
			if absDuration(d.Time.Sub(k.Time)) < trigInt {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })
	return kept
}

// TrimBefore drops every detection strictly older than cutoff from every
// group. A detection exactly at cutoff is retained.
func (p *Party) TrimBefore(cutoff time.Time) {
	for name, g := range p.groups {
		kept := g.Detections[:0]
		for _, d := range g.Detections {
			if !d.Time.Before(cutoff) {
				kept = append(kept, d)
			}
		}
		g.Detections = kept
		if len(g.Detections) == 0 {
			delete(p.groups, name)
		}
	}
}

// All returns every detection across groups in time order.
func (p *Party) All() []*Detection {
	var out []*Detection
	for _, g := range p.groups {
		out = append(out, g.Detections...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Len returns the total number of detections in the set.
func (p *Party) Len() int {
	n := 0
	for _, g := range p.groups {
		n += len(g.Detections)
	}
	return n
}

// Rate computes the detection rate, in events per hour, over [start, end].
// Returns zero for an empty or inverted window.
func Rate(dets []*Detection, start, end time.Time) float64 {
	if !end.After(start) {
		return 0
	}
	n := 0
	for _, d := range dets {
		if !d.Time.Before(start) && !d.Time.After(end) {
			n++
		}
	}
	return float64(n) / end.Sub(start).Hours()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
