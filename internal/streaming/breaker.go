// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package streaming

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/rtseis/rtseis/internal/logging"
	"github.com/rtseis/rtseis/internal/wavebank"
	"github.com/rtseis/rtseis/internal/waveform"
)

// ResilientSource wraps a backfill Source with a circuit breaker so a
// misbehaving upstream (slow data centre, wedged archive) cannot stall
// template backfill indefinitely. An empty range is not a failure.
type ResilientSource struct {
	src Source
	cb  *gobreaker.CircuitBreaker[[]waveform.Packet]
}

var _ Source = (*ResilientSource)(nil)

// NewResilientSource wraps src. The breaker opens after a 60% failure rate
// over at least 5 requests and probes again after 30 seconds.
func NewResilientSource(src Source, name string) *ResilientSource {
	cb := gobreaker.NewCircuitBreaker[[]waveform.Packet](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		// A range with no data is a valid answer, not an upstream fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, wavebank.ErrNoData)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("source", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Backfill source circuit breaker state change")
		},
	})
	return &ResilientSource{src: src, cb: cb}
}

// GetWaveform fetches a range through the breaker. Returns
// gobreaker.ErrOpenState while the breaker is open.
func (r *ResilientSource) GetWaveform(id waveform.ChannelID, start, end time.Time) ([]waveform.Packet, error) {
	return r.cb.Execute(func() ([]waveform.Packet, error) {
		return r.src.GetWaveform(id, start, end)
	})
}
