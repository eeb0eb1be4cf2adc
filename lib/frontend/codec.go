// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds one inbound line. Configuration uploads travel
// in request bodies and can be several megabytes.
const maxLineSize = 32 << 20

// ErrLineTooLong is wrapped by the DecodeError for a line over the
// size limit. The rest of that line is discarded.
var ErrLineTooLong = errors.New("line exceeds size limit")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeError reports an inbound line that could not be decoded. The
// stream is still usable; Next may be called again.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reader decodes inbound messages, one per line.
type Reader struct {
	reader     *bufio.Reader
	limit      int
	line       []byte
	lineNumber int
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReaderSize(r, 64<<10), limit: maxLineSize}
}

// Next returns the next message. Blank lines are skipped. It returns
// io.EOF at the end of input and a *DecodeError for a line that is not
// a known message or is longer than the size limit.
func (r *Reader) Next() (Message, error) {
	for {
		line, tooLong, err := r.readLine()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("reading front-end input: %w", err)
		}
		r.lineNumber++
		if tooLong {
			return nil, &DecodeError{Line: r.lineNumber, Err: fmt.Errorf("%w of %d bytes", ErrLineTooLong, r.limit)}
		}
		if len(line) == 0 {
			continue
		}
		message, err := DecodeMessage(line)
		if err != nil {
			return nil, &DecodeError{Line: r.lineNumber, Err: err}
		}
		return message, nil
	}
}

// readLine returns the next line without its terminator, or tooLong
// once more than the limit has been read and the rest of the line
// skipped. The line is valid until the next call. A final line without
// a newline is returned before io.EOF.
func (r *Reader) readLine() ([]byte, bool, error) {
	r.line = r.line[:0]
	tooLong := false
	read := 0
	for {
		chunk, err := r.reader.ReadSlice('\n')
		read += len(chunk)
		// Two spare bytes for a CRLF terminator.
		if !tooLong && len(r.line)+len(chunk) > r.limit+2 {
			tooLong = true
			r.line = r.line[:0]
		}
		if !tooLong {
			r.line = append(r.line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && (err != io.EOF || read == 0) {
			return nil, false, err
		}
		break
	}
	if tooLong {
		return nil, true, nil
	}
	line := bytes.TrimSuffix(r.line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) > r.limit {
		return nil, true, nil
	}
	return line, false, nil
}

// DecodeMessage decodes one inbound line.
func DecodeMessage(line []byte) (Message, error) {
	var message envelope
	if err := json.Unmarshal(line, &message); err != nil {
		return nil, err
	}

	var target Message
	switch message.Type {
	case "request":
		var request Request
		if err := decodeData(message, &request); err != nil {
			return nil, err
		}
		return request, nil
	case "start_core":
		var start StartCore
		if err := decodeData(message, &start); err != nil {
			return nil, err
		}
		return start, nil
	case "service_start_core":
		var start ServiceStartCore
		if err := decodeData(message, &start); err != nil {
			return nil, err
		}
		return start, nil
	case "start_traffic":
		target = StartTraffic{}
	case "stop_traffic":
		target = StopTraffic{}
	case "start_logs":
		target = StartLogs{}
	case "stop_logs":
		target = StopLogs{}
	case "stop_core":
		target = StopCore{}
	case "service_stop_core":
		target = ServiceStopCore{}
	case "service_status":
		target = GetServiceStatus{}
	case "start_service_logs":
		target = StartServiceLogs{}
	case "stop_service_logs":
		target = StopServiceLogs{}
	default:
		return nil, fmt.Errorf("unknown message type %q", message.Type)
	}
	return target, nil
}

func decodeData(message envelope, target any) error {
	if len(message.Data) == 0 {
		return fmt.Errorf("%s message has no data", message.Type)
	}
	if err := json.Unmarshal(message.Data, target); err != nil {
		return fmt.Errorf("decoding %s: %w", message.Type, err)
	}
	return nil
}

// Sink receives outbound events.
type Sink interface {
	Send(event Event) error
}

// Writer encodes events one per line. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send writes event as one line.
func (w *Writer) Send(event Event) error {
	line, err := EncodeEvent(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(line); err != nil {
		return fmt.Errorf("writing %s event: %w", event.eventType(), err)
	}
	return nil
}

// EncodeEvent renders event without a trailing newline.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", event.eventType(), err)
	}
	return json.Marshal(envelope{Type: event.eventType(), Data: data})
}
