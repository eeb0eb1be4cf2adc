// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"

	"github.com/stelliberty/hub/lib/frontend"
	"github.com/stelliberty/hub/lib/serviceipc"
)

var (
	errNoSupervisor = errors.New("direct core launch is not available")
	errNoService    = errors.New("helper service is not configured")
)

func (r *Runtime) startCore(message frontend.StartCore) {
	if r.supervisor == nil {
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(errNoSupervisor)})
		return
	}
	pid, err := r.supervisor.Start(message.ExecutablePath, message.Args)
	if err != nil {
		r.logger.Error("starting core failed", "executable", message.ExecutablePath, "error", err)
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(err)})
		return
	}
	r.logger.Info("core started", "pid", pid)
	processID := uint32(pid)
	r.send(frontend.ProcessResult{Success: true, PID: &processID})
}

func (r *Runtime) stopCore(ctx context.Context) {
	if r.supervisor == nil {
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(errNoSupervisor)})
		return
	}
	if err := r.supervisor.Stop(ctx); err != nil {
		r.logger.Error("stopping core failed", "error", err)
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(err)})
		return
	}
	r.send(frontend.ProcessResult{Success: true})
}

func (r *Runtime) serviceStartCore(ctx context.Context, message frontend.ServiceStartCore) {
	if r.service == nil {
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(errNoService)})
		return
	}
	pid, err := r.service.StartCore(ctx, serviceipc.StartOptions{
		CorePath:           message.CorePath,
		ConfigPath:         message.ConfigPath,
		DataDir:            message.DataDir,
		ExternalController: message.ExternalController,
	})
	if err != nil {
		r.logger.Error("starting core through helper failed", "error", err)
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(err)})
		return
	}
	r.send(frontend.ProcessResult{Success: true, PID: pid})
}

func (r *Runtime) serviceStopCore(ctx context.Context) {
	if r.service == nil {
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(errNoService)})
		return
	}
	if err := r.service.StopCore(ctx); err != nil {
		r.logger.Error("stopping core through helper failed", "error", err)
		r.send(frontend.ProcessResult{ErrorMessage: frontend.ErrorText(err)})
		return
	}
	r.ReleaseCoreResources()
	r.send(frontend.ProcessResult{Success: true})
}

func (r *Runtime) serviceStatus(ctx context.Context) {
	if r.service == nil {
		r.send(frontend.ServiceStatus{Status: string(serviceipc.StateUnknown)})
		return
	}
	status := r.service.Status(ctx)
	event := frontend.ServiceStatus{Status: string(status.State)}
	if status.State == serviceipc.StateRunning {
		event.PID = &status.PID
		event.Uptime = &status.Uptime
	}
	r.send(event)
}

// startServiceLogs starts forwarding helper log lines as ServiceLog
// events, replacing any stream already running. Success is reported
// before the helper is contacted; a later failure is only logged.
func (r *Runtime) startServiceLogs(ctx context.Context) {
	if r.service == nil {
		r.send(frontend.StreamResult{ErrorMessage: frontend.ErrorText(errNoService)})
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &logStream{cancel: cancel}

	r.mu.Lock()
	previous := r.serviceLogs
	r.serviceLogs = stream
	r.mu.Unlock()
	if previous != nil {
		previous.cancel()
	}

	r.send(frontend.StreamResult{Success: true})
	r.inflight.Go(func() {
		defer cancel()
		err := r.service.StreamLogs(streamCtx, func(line string) bool {
			r.send(frontend.ServiceLog{Line: line})
			return true
		})

		r.mu.Lock()
		if r.serviceLogs == stream {
			r.serviceLogs = nil
		}
		r.mu.Unlock()

		switch {
		case err == nil:
			r.logger.Info("helper log stream ended")
		case errors.Is(err, context.Canceled):
			r.logger.Debug("helper log stream stopped")
		default:
			r.logger.Warn("helper log stream failed", "error", err)
		}
	})
}

// stopServiceLogs cancels the helper log stream, if any, and answers
// the front end when reply is set.
func (r *Runtime) stopServiceLogs(reply bool) {
	r.mu.Lock()
	stream := r.serviceLogs
	r.serviceLogs = nil
	r.mu.Unlock()
	if stream != nil {
		stream.cancel()
	}
	if reply {
		r.send(frontend.StreamResult{Success: true})
	}
}
