// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package frontend

// Message is an inbound record from the front end.
type Message interface {
	messageType() string
}

// Request asks for one call against the core's control API.
type Request struct {
	RequestID uint64  `json:"request_id"`
	Method    string  `json:"method"`
	Path      string  `json:"path"`
	Body      *string `json:"body,omitempty"`
}

// StartTraffic subscribes to the core's traffic counters.
type StartTraffic struct{}

// StopTraffic ends the traffic subscription.
type StopTraffic struct{}

// StartLogs subscribes to the core's log output.
type StartLogs struct{}

// StopLogs ends the log subscription.
type StopLogs struct{}

// StartCore launches the core binary directly as a child process.
type StartCore struct {
	ExecutablePath string   `json:"executable_path"`
	Args           []string `json:"args"`
}

// StopCore stops the directly launched core.
type StopCore struct{}

// ServiceStartCore launches the core through the helper service.
type ServiceStartCore struct {
	CorePath           string `json:"core_path"`
	ConfigPath         string `json:"config_path"`
	DataDir            string `json:"data_dir"`
	ExternalController string `json:"external_controller"`
}

// ServiceStopCore stops the core through the helper service.
type ServiceStopCore struct{}

// GetServiceStatus asks for the helper service state.
type GetServiceStatus struct{}

// StartServiceLogs streams the helper service's own log output.
type StartServiceLogs struct{}

// StopServiceLogs ends the helper log stream.
type StopServiceLogs struct{}

func (Request) messageType() string          { return "request" }
func (StartTraffic) messageType() string     { return "start_traffic" }
func (StopTraffic) messageType() string      { return "stop_traffic" }
func (StartLogs) messageType() string        { return "start_logs" }
func (StopLogs) messageType() string         { return "stop_logs" }
func (StartCore) messageType() string        { return "start_core" }
func (StopCore) messageType() string         { return "stop_core" }
func (ServiceStartCore) messageType() string { return "service_start_core" }
func (ServiceStopCore) messageType() string  { return "service_stop_core" }
func (GetServiceStatus) messageType() string { return "service_status" }
func (StartServiceLogs) messageType() string { return "start_service_logs" }
func (StopServiceLogs) messageType() string  { return "stop_service_logs" }

// MessageType returns the wire tag of message.
func MessageType(message Message) string { return message.messageType() }

// Event is an outbound record to the front end.
type Event interface {
	eventType() string
}

// Response answers a Request. StatusCode is 0 when no response was
// received from the core.
type Response struct {
	RequestID    uint64  `json:"request_id"`
	StatusCode   int     `json:"status_code"`
	Body         string  `json:"body"`
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Traffic is one sample from the traffic subscription, in bytes per
// second.
type Traffic struct {
	Upload   uint64 `json:"upload"`
	Download uint64 `json:"download"`
}

// Log is one entry from the core's log subscription.
type Log struct {
	LogType string `json:"log_type"`
	Payload string `json:"payload"`
}

// ServiceLog is one line from the helper service's log stream.
type ServiceLog struct {
	Line string `json:"line"`
}

// StreamResult answers a subscription start or stop.
type StreamResult struct {
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// ProcessResult answers a core start or stop.
type ProcessResult struct {
	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message,omitempty"`
	PID          *uint32 `json:"pid,omitempty"`
}

// ServiceStatus answers GetServiceStatus. Status is "running",
// "stopped", or "unknown".
type ServiceStatus struct {
	Status string  `json:"status"`
	PID    *uint32 `json:"pid,omitempty"`
	Uptime *uint64 `json:"uptime,omitempty"`
}

func (Response) eventType() string      { return "response" }
func (Traffic) eventType() string       { return "traffic" }
func (Log) eventType() string           { return "log" }
func (ServiceLog) eventType() string    { return "service_log" }
func (StreamResult) eventType() string  { return "stream_result" }
func (ProcessResult) eventType() string { return "process_result" }
func (ServiceStatus) eventType() string { return "service_status" }

// ErrorText returns a pointer to err's message, or nil for a nil err.
func ErrorText(err error) *string {
	if err == nil {
		return nil
	}
	message := err.Error()
	return &message
}
