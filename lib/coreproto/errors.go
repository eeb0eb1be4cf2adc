// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package coreproto

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned when the stream ends before a
// complete response was read.
var ErrConnectionClosed = errors.New("connection closed unexpectedly")

// ProtocolError reports a response that could not be parsed.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Message, e.Err)
	}
	return "malformed response: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Err: err}
}
