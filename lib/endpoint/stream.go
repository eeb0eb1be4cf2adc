// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"fmt"
	"net"
	"time"
)

// PeekResult is the outcome of a non-blocking liveness peek.
type PeekResult int

const (
	// PeekEmpty means no bytes are waiting and the peer has not closed.
	// This is the normal state of an idle connection.
	PeekEmpty PeekResult = iota

	// PeekData means bytes are waiting on an idle connection. A
	// well-behaved peer never sends unsolicited bytes, so this is
	// anomalous, but the connection itself is open.
	PeekData

	// PeekClosed means the peer closed its side.
	PeekClosed

	// PeekFailed means the peek itself failed; the error is returned
	// alongside.
	PeekFailed
)

func (r PeekResult) String() string {
	switch r {
	case PeekEmpty:
		return "empty"
	case PeekData:
		return "data"
	case PeekClosed:
		return "closed"
	case PeekFailed:
		return "failed"
	}
	return fmt.Sprintf("PeekResult(%d)", int(r))
}

// Stream is one duplex connection to a local endpoint.
type Stream interface {
	net.Conn

	// TryPeek inspects the receive side without blocking and without
	// consuming bytes.
	TryPeek() (PeekResult, error)
}

// Connector opens new streams to one endpoint.
type Connector interface {
	Connect(ctx context.Context) (Stream, error)
}

// Dialer is the Connector for a socket or pipe path.
type Dialer struct {
	// Path is the socket path (Unix) or pipe name (Windows).
	Path string

	// Timeout bounds the connect phase. Zero means only ctx bounds it.
	Timeout time.Duration
}

// NewDialer returns a Dialer for path.
func NewDialer(path string, timeout time.Duration) *Dialer {
	return &Dialer{Path: path, Timeout: timeout}
}

// Connect opens a new stream.
func (d *Dialer) Connect(ctx context.Context) (Stream, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	stream, err := dial(ctx, d.Path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", d.Path, err)
	}
	return stream, nil
}

// DialContext ignores network and address and connects to d.Path. It
// matches net.Dialer.DialContext so it can be plugged into
// websocket.Dialer.NetDialContext.
func (d *Dialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	return d.Connect(ctx)
}
