// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package serviceipc

import (
	"encoding/json"
	"fmt"
)

// Command is a request to the helper service. The implementations in
// this package are the complete set.
type Command interface {
	commandType() string
}

// Ping checks that the helper answers. The reply is Pong.
type Ping struct{}

// Heartbeat is the liveness check used by IsServiceRunning. The reply
// is HeartbeatAck.
type Heartbeat struct{}

// GetStatus asks for the core process state. The reply is Status.
type GetStatus struct{}

// StartClash asks the helper to launch the proxy core.
type StartClash struct {
	CorePath           string `json:"core_path"`
	ConfigPath         string `json:"config_path"`
	DataDir            string `json:"data_dir"`
	ExternalController string `json:"external_controller"`
}

// StopClash asks the helper to stop the proxy core.
type StopClash struct{}

// StreamLogs subscribes the connection to the helper's log output.
type StreamLogs struct{}

func (Ping) commandType() string       { return "Ping" }
func (Heartbeat) commandType() string  { return "Heartbeat" }
func (GetStatus) commandType() string  { return "GetStatus" }
func (StartClash) commandType() string { return "StartClash" }
func (StopClash) commandType() string  { return "StopClash" }
func (StreamLogs) commandType() string { return "StreamLogs" }

// Response is a reply from the helper service. The implementations in
// this package are the complete set.
type Response interface {
	responseType() string
}

// Pong answers Ping.
type Pong struct{}

// HeartbeatAck answers Heartbeat.
type HeartbeatAck struct{}

// Status reports the state of the core process managed by the helper.
type Status struct {
	Running bool `json:"clash_running"`

	// PID is nil when the core is not running.
	PID *uint32 `json:"clash_pid"`

	// Uptime is the helper's own uptime in seconds.
	Uptime uint64 `json:"service_uptime"`
}

// Success acknowledges a command.
type Success struct {
	Message string `json:"message,omitempty"`
}

// ErrorResponse is a failure reported by the helper. SendCommand
// converts it to a *ServiceError.
type ErrorResponse struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// LogStream carries one log line on a StreamLogs connection.
type LogStream struct {
	Line string `json:"line"`
}

func (Pong) responseType() string          { return "Pong" }
func (HeartbeatAck) responseType() string  { return "HeartbeatAck" }
func (Status) responseType() string        { return "Status" }
func (Success) responseType() string       { return "Success" }
func (ErrorResponse) responseType() string { return "Error" }
func (LogStream) responseType() string     { return "LogStream" }

// envelope is the adjacently tagged wire form. Data is absent for
// variants without fields.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeCommand renders command as a frame payload.
func EncodeCommand(command Command) ([]byte, error) {
	switch command.(type) {
	case StartClash:
		return encodeEnvelope(command.commandType(), command)
	default:
		return encodeEnvelope(command.commandType(), nil)
	}
}

// DecodeCommand parses a frame payload produced by EncodeCommand.
func DecodeCommand(payload []byte) (Command, error) {
	var message envelope
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, protocolError(err, "decoding command envelope")
	}
	switch message.Type {
	case "Ping":
		return Ping{}, nil
	case "Heartbeat":
		return Heartbeat{}, nil
	case "GetStatus":
		return GetStatus{}, nil
	case "StopClash":
		return StopClash{}, nil
	case "StreamLogs":
		return StreamLogs{}, nil
	case "StartClash":
		var command StartClash
		if err := decodeData(message, &command); err != nil {
			return nil, err
		}
		return command, nil
	}
	return nil, protocolError(nil, "unknown command type %q", message.Type)
}

// EncodeResponse renders response as a frame payload.
func EncodeResponse(response Response) ([]byte, error) {
	switch response.(type) {
	case Pong, HeartbeatAck:
		return encodeEnvelope(response.responseType(), nil)
	default:
		return encodeEnvelope(response.responseType(), response)
	}
}

// DecodeResponse parses a frame payload produced by EncodeResponse.
func DecodeResponse(payload []byte) (Response, error) {
	var message envelope
	if err := json.Unmarshal(payload, &message); err != nil {
		return nil, protocolError(err, "decoding response envelope")
	}

	var response Response
	var err error
	switch message.Type {
	case "Pong":
		return Pong{}, nil
	case "HeartbeatAck":
		return HeartbeatAck{}, nil
	case "Status":
		var status Status
		err = decodeData(message, &status)
		response = status
	case "Success":
		var success Success
		err = decodeData(message, &success)
		response = success
	case "Error":
		var failure ErrorResponse
		err = decodeData(message, &failure)
		response = failure
	case "LogStream":
		var line LogStream
		err = decodeData(message, &line)
		response = line
	default:
		return nil, protocolError(nil, "unknown response type %q", message.Type)
	}
	if err != nil {
		return nil, err
	}
	return response, nil
}

func encodeEnvelope(messageType string, data any) ([]byte, error) {
	message := envelope{Type: messageType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", messageType, err)
		}
		message.Data = raw
	}
	return json.Marshal(message)
}

// decodeData unmarshals the data field. A missing data field leaves
// target at its zero value, which matches a helper that omits empty
// optional fields.
func decodeData(message envelope, target any) error {
	if len(message.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(message.Data, target); err != nil {
		return protocolError(err, "decoding %s data", message.Type)
	}
	return nil
}
