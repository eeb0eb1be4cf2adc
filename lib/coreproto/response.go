// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package coreproto

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// maxLineSize bounds one status or header line.
	maxLineSize = 64 << 10

	// maxBodySize bounds a response body, plain or reassembled from
	// chunks. The largest control responses (full proxy and rule
	// listings) are a few megabytes.
	maxBodySize = 64 << 20
)

// Response is one parsed response.
type Response struct {
	StatusCode int
	Body       string

	// Close is set when the core sent "Connection: close". The stream
	// must not be reused.
	Close bool
}

// SendAndReceive writes request to w and reads one response from r.
// r must read from the same stream w writes to.
func SendAndReceive(w io.Writer, r *bufio.Reader, request []byte) (*Response, error) {
	if _, err := w.Write(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	return ReadResponse(r)
}

// ReadResponse parses one response from r.
func ReadResponse(r *bufio.Reader) (*Response, error) {
	var headerLines []string
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		headerLines = append(headerLines, line)
	}
	if len(headerLines) == 0 {
		return nil, protocolError(nil, "empty header block")
	}

	statusCode, err := parseStatusLine(headerLines[0])
	if err != nil {
		return nil, err
	}

	response := &Response{StatusCode: statusCode}
	contentLength := -1
	chunked := false
	for _, line := range headerLines[1:] {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case strings.EqualFold(key, "Content-Length"):
			length, err := strconv.Atoi(value)
			if err != nil || length < 0 {
				return nil, protocolError(err, "invalid Content-Length %q", value)
			}
			contentLength = length
		case strings.EqualFold(key, "Transfer-Encoding"):
			if strings.Contains(strings.ToLower(value), "chunked") {
				chunked = true
			}
		case strings.EqualFold(key, "Connection"):
			if strings.EqualFold(value, "close") {
				response.Close = true
			}
		}
	}

	var body []byte
	switch {
	case chunked:
		body, err = readChunkedBody(r)
		if err != nil {
			return nil, err
		}
	case contentLength >= 0:
		if contentLength > maxBodySize {
			return nil, protocolError(nil, "Content-Length %d exceeds %d byte limit", contentLength, maxBodySize)
		}
		body = make([]byte, contentLength)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, readError("reading body", err)
		}
	}

	if !utf8.Valid(body) {
		return nil, protocolError(nil, "body is not valid UTF-8")
	}
	response.Body = string(body)
	return response, nil
}

// parseStatusLine extracts the status code from "HTTP/1.1 200 OK".
func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, protocolError(nil, "invalid status line %q", line)
	}
	code, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return 0, protocolError(err, "invalid status code %q", fields[1])
	}
	return int(code), nil
}

// readChunkedBody reassembles a chunked body. Blank lines before a
// size line are skipped. The zero-size chunk ends the body after its
// trailer section.
func readChunkedBody(r *bufio.Reader) ([]byte, error) {
	var body []byte
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		sizeText := strings.TrimSpace(line)
		if sizeText == "" {
			continue
		}
		// Chunk extensions are not used by the core; drop them.
		sizeText, _, _ = strings.Cut(sizeText, ";")

		size, err := strconv.ParseUint(strings.TrimSpace(sizeText), 16, 63)
		if err != nil {
			return nil, protocolError(err, "invalid chunk size %q", sizeText)
		}

		if size == 0 {
			if err := skipTrailers(r); err != nil {
				return nil, err
			}
			return body, nil
		}

		if uint64(len(body))+size > maxBodySize {
			return nil, protocolError(nil, "chunked body exceeds %d byte limit", maxBodySize)
		}
		start := len(body)
		body = append(body, make([]byte, size)...)
		if _, err := io.ReadFull(r, body[start:]); err != nil {
			return nil, readError("reading chunk", err)
		}

		terminator, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if terminator != "" {
			return nil, protocolError(nil, "chunk of %d bytes not followed by CRLF", size)
		}
	}
}

// skipTrailers consumes trailer lines up to and including the blank
// line that ends the chunked body. A stream that ends here has already
// delivered the whole body, so EOF is not an error.
func skipTrailers(r *bufio.Reader) error {
	for {
		line, err := readLine(r)
		if errors.Is(err, ErrConnectionClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// readLine returns the next line with its CRLF or LF stripped. EOF
// before a complete line is ErrConnectionClosed.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		fragment, err := r.ReadSlice('\n')
		if len(line)+len(fragment) > maxLineSize {
			return "", protocolError(nil, "line exceeds %d bytes", maxLineSize)
		}
		line = append(line, fragment...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", readError("reading line", err)
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

// readError maps a premature end of stream to ErrConnectionClosed and
// wraps everything else.
func readError(operation string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", operation, ErrConnectionClosed)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
