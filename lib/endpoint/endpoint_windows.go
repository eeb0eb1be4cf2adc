// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"unsafe"

	"github.com/Microsoft/go-winio"
	"golang.org/x/sys/windows"
)

// DefaultCorePath is the proxy core's control pipe.
func DefaultCorePath() string {
	return `\\.\pipe\stelliberty` + buildSuffix
}

// DefaultServicePath is the helper service's command pipe.
func DefaultServicePath() string {
	return `\\.\pipe\stelliberty-service` + buildSuffix
}

var procPeekNamedPipe = windows.NewLazySystemDLL("kernel32.dll").NewProc("PeekNamedPipe")

func dial(ctx context.Context, path string) (Stream, error) {
	conn, err := winio.DialPipeContext(ctx, path)
	if err != nil {
		return nil, err
	}
	handle, ok := conn.(interface{ Fd() uintptr })
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("pipe connection %T exposes no handle", conn)
	}
	return &pipeStream{Conn: conn, handle: windows.Handle(handle.Fd())}, nil
}

// pipeStream peeks with PeekNamedPipe, which reports the byte count
// available without reading.
type pipeStream struct {
	net.Conn
	handle windows.Handle
}

func (s *pipeStream) TryPeek() (PeekResult, error) {
	var available uint32
	result, _, callErr := procPeekNamedPipe.Call(
		uintptr(s.handle),
		0, 0, 0,
		uintptr(unsafe.Pointer(&available)),
		0,
	)
	if result == 0 {
		if errors.Is(callErr, windows.ERROR_BROKEN_PIPE) || errors.Is(callErr, windows.ERROR_PIPE_NOT_CONNECTED) {
			return PeekClosed, nil
		}
		return PeekFailed, callErr
	}
	if available > 0 {
		return PeekData, nil
	}
	return PeekEmpty, nil
}
