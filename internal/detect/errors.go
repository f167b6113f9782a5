// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

package detect

import (
	"errors"
	"strings"
)

// Class tags an engine failure as retryable or fatal. Retryable failures
// skip one detection cycle; fatal failures stop the scheduler permanently.
type Class int

const (
	// Retryable failures skip the cycle and retry after one interval.
	Retryable Class = iota

	// Fatal failures (resource exhaustion) shut the detector down.
	Fatal
)

// String returns the class name for logging.
func (c Class) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "retryable"
}

// Error is a classified engine failure. Engines should return *Error so the
// scheduler does not have to inspect message text.
type Error struct {
	Class Class
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return "detect: " + e.Class.String() + " engine error"
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// NewFatal wraps err as a fatal engine error.
func NewFatal(err error) *Error { return &Error{Class: Fatal, Err: err} }

// NewRetryable wraps err as a retryable engine error.
func NewRetryable(err error) *Error { return &Error{Class: Retryable, Err: err} }

// oomFragments are message substrings indicating memory exhaustion, used
// only when the engine boundary returns an unclassified error.
var oomFragments = []string{
	"cannot allocate memory",
	"out of memory",
}

// Classify returns the failure class of an engine error. Typed *Error
// values carry their own class; anything else falls back to message
// inspection for memory-exhaustion text.
func Classify(err error) Class {
	var de *Error
	if errors.As(err, &de) {
		return de.Class
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range oomFragments {
		if strings.Contains(msg, frag) {
			return Fatal
		}
	}
	return Retryable
}
