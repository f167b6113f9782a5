// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package notify publishes detection and status alerts over Watermill.
//
// The default transport is the in-process gochannel pub/sub, which needs no
// external broker; a NATS JetStream transport is available behind the nats
// build tag for deployments that fan alerts out to other consumers.
// Notification is fire-and-forget: a failed publish is logged and never
// blocks the detection path.
package notify

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rtseis/rtseis/internal/detect"
	"github.com/rtseis/rtseis/internal/logging"
)

// Topics alerts are published on.
const (
	TopicDetections = "rtseis.detections"
	TopicStatus     = "rtseis.status"
)

// Alert is the payload published for every new detection.
type Alert struct {
	ID           string    `json:"id"`
	Template     string    `json:"template"`
	Time         time.Time `json:"time"`
	CorSum       float64   `json:"cor_sum"`
	Threshold    float64   `json:"threshold"`
	ChannelCount int       `json:"channel_count"`
	IssuedAt     time.Time `json:"issued_at"`
}

// StatusUpdate is the payload published on scheduler state changes.
type StatusUpdate struct {
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// Notifier publishes alerts on a Watermill publisher.
type Notifier struct {
	pub message.Publisher
}

// New creates a notifier over an arbitrary Watermill publisher.
func New(pub message.Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// NewInProcess creates a notifier backed by the gochannel pub/sub and returns
// the pub/sub so in-process consumers (the websocket hub) can subscribe.
func NewInProcess() (*Notifier, *gochannel.GoChannel) {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, NewWatermillLogger())
	return &Notifier{pub: ps}, ps
}

// Detection publishes an alert for a newly handled detection.
// Fire-and-forget: errors are logged, not returned.
func (n *Notifier) Detection(d *detect.Detection) {
	a := Alert{
		ID:        uuid.NewString(),
		Template:  d.Template,
		Time:      d.Time,
		CorSum:    d.CorSum,
		Threshold: d.Threshold,
		IssuedAt:  time.Now().UTC(),
	}
	if d.Event != nil {
		a.ChannelCount = d.Event.ChannelCount
	}
	n.publish(TopicDetections, a.ID, a)
}

// Status publishes a scheduler state change.
func (n *Notifier) Status(state, reason string) {
	s := StatusUpdate{State: state, Reason: reason, IssuedAt: time.Now().UTC()}
	n.publish(TopicStatus, uuid.NewString(), s)
}

func (n *Notifier) publish(topic, id string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to marshal alert")
		return
	}
	msg := message.NewMessage(id, data)
	if err := n.pub.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("Failed to publish alert")
	}
}

// Close shuts the underlying publisher down.
func (n *Notifier) Close() error {
	return n.pub.Close()
}

// watermillLogger adapts the application logger to Watermill's interface.
type watermillLogger struct {
	fields watermill.LogFields
}

// NewWatermillLogger returns a watermill.LoggerAdapter writing through the
// application logger.
func NewWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}
