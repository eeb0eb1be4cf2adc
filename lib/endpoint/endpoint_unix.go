// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// DefaultCorePath is the proxy core's control socket.
func DefaultCorePath() string {
	return "/tmp/stelliberty" + buildSuffix + ".sock"
}

// DefaultServicePath is the helper service's command socket.
func DefaultServicePath() string {
	return "/tmp/stelliberty-service" + buildSuffix + ".sock"
}

func dial(ctx context.Context, path string) (Stream, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	return &unixStream{UnixConn: unixConn}, nil
}

// unixStream peeks with recv(MSG_PEEK) on the raw descriptor.
type unixStream struct {
	*net.UnixConn
}

func (s *unixStream) TryPeek() (PeekResult, error) {
	raw, err := s.UnixConn.SyscallConn()
	if err != nil {
		return PeekFailed, err
	}

	var buffer [1]byte
	var count int
	var peekErr error
	// Control does not wait for readiness. The runtime keeps the
	// descriptor non-blocking, so an empty queue yields EAGAIN.
	controlErr := raw.Control(func(fd uintptr) {
		count, _, peekErr = unix.Recvfrom(int(fd), buffer[:], unix.MSG_PEEK)
	})
	if controlErr != nil {
		return PeekFailed, controlErr
	}
	return classifyPeek(count, peekErr)
}

func classifyPeek(count int, err error) (PeekResult, error) {
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return PeekEmpty, nil
	case err != nil:
		return PeekFailed, err
	case count == 0:
		return PeekClosed, nil
	default:
		return PeekData, nil
	}
}
