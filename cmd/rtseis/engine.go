// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package main

import (
	"context"

	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/template"
	"github.com/rtseis/rtseis/internal/waveform"
)

// newEngine returns the detection engine for this build. The correlation
// core is an out-of-tree component wired here; builds without one run the
// full ingestion, scheduling and serving stack with a pass-through engine,
// which is what replay drills and deployment rehearsals use.
func newEngine() detect.Engine {
	logging.Warn().Msg("No correlation core linked; running with pass-through engine")
	return detect.EngineFunc(func(_ context.Context, st waveform.Stream, templates []template.Template, _ detect.Params) ([]detect.Group, error) {
		logging.Debug().
			Int("channels", len(st.Traces)).
			Int("templates", len(templates)).
			Msg("Pass-through engine invoked")
		return nil, nil
	})
}
