// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package serviceipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// MaxResponseSize bounds a command or response frame.
	MaxResponseSize = 10 << 20

	// MaxLogLineSize bounds one frame on a StreamLogs connection.
	MaxLogLineSize = 1 << 20
)

// WriteFrame writes the length prefix and payload in one Write.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame whose payload is at most limit bytes. A
// stream that ends before the first byte of the prefix returns io.EOF;
// one that ends anywhere later returns io.ErrUnexpectedEOF. An
// oversized prefix returns ErrResponseTooLarge without reading the
// payload.
func ReadFrame(r io.Reader, limit uint32) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(prefix[:])
	if length > limit {
		return nil, fmt.Errorf("frame of %d bytes (limit %d): %w", length, limit, ErrResponseTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
