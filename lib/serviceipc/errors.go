// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package serviceipc

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when an attempt does not complete within
	// the client's per-attempt timeout.
	ErrTimeout = errors.New("service call timed out")

	// ErrResponseTooLarge is returned when a length prefix exceeds the
	// frame limit. The body is not read.
	ErrResponseTooLarge = errors.New("service response exceeds size limit")
)

// ServiceError is a failure reported by the helper in an Error
// response. It is terminal: the command reached the helper and was
// rejected.
type ServiceError struct {
	Code    int32
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error (code %d): %s", e.Code, e.Message)
}

// TransportError is a failure to connect to the helper or to move
// bytes over the connection, including a connection closed before the
// response was complete.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a frame that arrived intact but could not be
// understood: bad JSON, an unknown message type, or a response of the
// wrong type for the exchange.
type ProtocolError struct {
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service protocol violation: %s: %v", e.Message, e.Err)
	}
	return "service protocol violation: " + e.Message
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolError(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...), Err: err}
}

// retryable reports whether SendCommand should try again after err.
func retryable(err error) bool {
	var transportErr *TransportError
	return errors.Is(err, ErrTimeout) || errors.As(err, &transportErr)
}
