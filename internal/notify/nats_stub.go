// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

//go:build !nats

package notify

import (
	"fmt"
	"time"
)

// NATSConfig configures the JetStream alert transport.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NewNATS returns an error when NATS support is not compiled in.
// Build with -tags=nats to enable the JetStream transport.
func NewNATS(cfg NATSConfig) (*Notifier, error) {
	return nil, fmt.Errorf("nats transport not available: build with -tags=nats")
}
