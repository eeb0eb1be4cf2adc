// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package serviceipc

import (
	"context"
	"fmt"
	"log/slog"
)

// State is the coarse service-mode state shown to the front end.
type State string

const (
	// StateRunning means the helper answers and the core is running.
	StateRunning State = "running"

	// StateStopped means the helper answers but the core is not
	// running.
	StateStopped State = "stopped"

	// StateUnknown means the helper could not be reached or gave an
	// unusable answer.
	StateUnknown State = "unknown"
)

// ServiceStatus is the result of Manager.Status. PID and Uptime are
// set only in StateRunning.
type ServiceStatus struct {
	State  State
	PID    uint32
	Uptime uint64
}

// StartOptions are the arguments of a StartClash command.
type StartOptions struct {
	CorePath           string
	ConfigPath         string
	DataDir            string
	ExternalController string
}

// Manager runs the proxy core through the helper service.
type Manager struct {
	client *Client
	logger *slog.Logger
}

// NewManager creates a Manager on top of client.
func NewManager(client *Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, logger: logger}
}

// StreamLogs streams the helper's own log output. See
// Client.StreamLogs.
func (m *Manager) StreamLogs(ctx context.Context, callback func(line string) bool) error {
	return m.client.StreamLogs(ctx, callback)
}

// Status queries the helper and reports the core's state.
func (m *Manager) Status(ctx context.Context) ServiceStatus {
	if !m.client.IsServiceRunning(ctx) {
		return ServiceStatus{State: StateUnknown}
	}

	response, err := m.client.SendCommand(ctx, GetStatus{})
	if err != nil {
		m.logger.Debug("querying helper status failed", "error", err)
		return ServiceStatus{State: StateUnknown}
	}
	status, ok := response.(Status)
	if !ok {
		m.logger.Debug("helper answered GetStatus with unexpected response", "type", response.responseType())
		return ServiceStatus{State: StateUnknown}
	}
	if status.PID == nil {
		m.logger.Debug("helper running but core is not started")
		return ServiceStatus{State: StateStopped}
	}
	return ServiceStatus{State: StateRunning, PID: *status.PID, Uptime: status.Uptime}
}

// StartCore asks the helper to launch the core and returns its PID.
// The PID is nil when the follow-up status query does not report one;
// the core may still be running.
func (m *Manager) StartCore(ctx context.Context, options StartOptions) (*uint32, error) {
	m.logger.Debug("starting core through helper service", "core_path", options.CorePath)
	response, err := m.client.SendCommand(ctx, StartClash{
		CorePath:           options.CorePath,
		ConfigPath:         options.ConfigPath,
		DataDir:            options.DataDir,
		ExternalController: options.ExternalController,
	})
	if err != nil {
		return nil, fmt.Errorf("starting core through helper service: %w", err)
	}
	success, ok := response.(Success)
	if !ok {
		return nil, protocolError(nil, "StartClash answered with %s", response.responseType())
	}
	m.logger.Debug("helper started core", "message", success.Message)

	response, err = m.client.SendCommand(ctx, GetStatus{})
	if err != nil {
		m.logger.Warn("core started but its pid could not be queried", "error", err)
		return nil, nil
	}
	status, ok := response.(Status)
	if !ok {
		m.logger.Warn("core started but status response was unexpected", "type", response.responseType())
		return nil, nil
	}
	return status.PID, nil
}

// StopCore asks the helper to stop the core.
func (m *Manager) StopCore(ctx context.Context) error {
	m.logger.Debug("stopping core through helper service")
	response, err := m.client.SendCommand(ctx, StopClash{})
	if err != nil {
		return fmt.Errorf("stopping core through helper service: %w", err)
	}
	success, ok := response.(Success)
	if !ok {
		return protocolError(nil, "StopClash answered with %s", response.responseType())
	}
	m.logger.Debug("helper stopped core", "message", success.Message)
	return nil
}
