// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"io/fs"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, use of a closed connection, broken pipe, or
// connection reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsEndpointMissing reports whether err means the endpoint path does
// not exist: ENOENT for a Unix socket, ERROR_FILE_NOT_FOUND or
// ERROR_PATH_NOT_FOUND for a named pipe. Both map to fs.ErrNotExist.
func IsEndpointMissing(err error) bool {
	return err != nil && errors.Is(err, fs.ErrNotExist)
}
