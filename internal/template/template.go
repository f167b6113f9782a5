// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package template holds the reference-waveform metadata the scheduler needs
// to drive detection. Template waveform payloads are owned by the external
// detection engine; this package only tracks identity, required channels and
// the minimum data length each template needs.
package template

import (
	"fmt"
	"sort"
	"time"

	"github.com/rtseis/rtseis/internal/waveform"
)

// Template describes one reference pattern.
type Template struct {
	// Name uniquely identifies the template.
	Name string `json:"name"`

	// Channels lists the channel ids the template correlates against.
	Channels []waveform.ChannelID `json:"channels"`

	// ProcessLength is the minimum contiguous data duration the detection
	// engine needs to evaluate this template.
	ProcessLength time.Duration `json:"process_length"`
}

// Validate checks the template is usable.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template: empty name")
	}
	if len(t.Channels) == 0 {
		return fmt.Errorf("template %s: no channels", t.Name)
	}
	if t.ProcessLength <= 0 {
		return fmt.Errorf("template %s: non-positive process length", t.Name)
	}
	return nil
}

// Collection is an ordered set of templates keyed by name.
type Collection struct {
	templates []Template
	byName    map[string]int
}

// NewCollection creates a collection from the given templates, dropping
// duplicates by name (first wins).
func NewCollection(templates ...Template) *Collection {
	c := &Collection{byName: make(map[string]int)}
	c.Add(templates...)
	return c
}

// Add appends templates not already present. Returns the number added.
func (c *Collection) Add(templates ...Template) int {
	added := 0
	for _, t := range templates {
		if _, ok := c.byName[t.Name]; ok {
			continue
		}
		c.byName[t.Name] = len(c.templates)
		c.templates = append(c.templates, t)
		added++
	}
	return added
}

// Len returns the number of templates.
func (c *Collection) Len() int { return len(c.templates) }

// Templates returns a copy of the template slice.
func (c *Collection) Templates() []Template {
	return append([]Template(nil), c.templates...)
}

// Get returns a template by name.
func (c *Collection) Get(name string) (Template, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Template{}, false
	}
	return c.templates[i], true
}

// Names returns the sorted template names.
func (c *Collection) Names() []string {
	out := make([]string, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t.Name)
	}
	sort.Strings(out)
	return out
}

// Channels returns the union of channel ids required across all templates,
// sorted for deterministic subscription order.
func (c *Collection) Channels() []waveform.ChannelID {
	seen := make(map[waveform.ChannelID]struct{})
	for _, t := range c.templates {
		for _, ch := range t.Channels {
			seen[ch] = struct{}{}
		}
	}
	out := make([]waveform.ChannelID, 0, len(seen))
	for ch := range seen {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MaxProcessLength returns the longest process length across templates:
// the minimum buffered data span required before the first detection pass.
func (c *Collection) MaxProcessLength() time.Duration {
	var max time.Duration
	for _, t := range c.templates {
		if t.ProcessLength > max {
			max = t.ProcessLength
		}
	}
	return max
}
