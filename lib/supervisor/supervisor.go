// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs the proxy core as a direct child process,
// for installations without the helper service.
//
// At most one core runs at a time. Stop asks the core to exit, waits
// up to a grace period, then forces it. After the core is gone the stop
// hook runs so that state tied to the core's endpoint (pooled
// connections, subscriptions) is released.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/stelliberty/hub/lib/clock"
)

// DefaultGracePeriod is how long Stop waits after the polite
// termination request.
const DefaultGracePeriod = 5 * time.Second

// ErrAlreadyRunning is returned by Start while a core is running.
var ErrAlreadyRunning = errors.New("core process is already running")

// Config configures a Supervisor.
type Config struct {
	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// OnStop runs after Stop has ended a process.
	OnStop func()

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock times the grace period. Defaults to clock.Real().
	Clock clock.Clock
}

// Supervisor owns the directly launched core process.
type Supervisor struct {
	gracePeriod time.Duration
	onStop      func()
	logger      *slog.Logger
	clock       clock.Clock

	mu      sync.Mutex
	current *child
}

type child struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

// New creates a Supervisor with no process.
func New(config Config) *Supervisor {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultGracePeriod
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Supervisor{
		gracePeriod: config.GracePeriod,
		onStop:      config.OnStop,
		logger:      config.Logger,
		clock:       config.Clock,
	}
}

// Start launches executable with args and returns its pid. Output is
// discarded; the core writes its own log.
func (s *Supervisor) Start(executable string, args []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && !s.current.hasExited() {
		return 0, ErrAlreadyRunning
	}

	cmd := exec.Command(executable, args...)
	configureCommand(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", executable, err)
	}

	process := &child{cmd: cmd, exited: make(chan struct{})}
	go func() {
		process.waitErr = cmd.Wait()
		close(process.exited)
	}()
	s.current = process

	s.logger.Info("core process started", "pid", cmd.Process.Pid, "executable", executable, "args", args)
	return cmd.Process.Pid, nil
}

// Stop ends the running core: a termination request first, then a
// forced kill after the grace period or when ctx is done. Stopping
// when nothing runs succeeds without calling the stop hook.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	process := s.current
	if process == nil {
		s.logger.Debug("no core process to stop")
		return nil
	}
	s.current = nil

	pid := process.cmd.Process.Pid
	s.logger.Info("stopping core process", "pid", pid)

	if !process.hasExited() {
		if err := terminate(process.cmd.Process); err != nil {
			s.logger.Warn("termination request failed, killing", "pid", pid, "error", err)
			forceKill(process.cmd.Process)
		}

		select {
		case <-process.exited:
		case <-s.clock.After(s.gracePeriod):
			s.logger.Warn("core process ignored termination request, killing", "pid", pid, "grace_period", s.gracePeriod)
			forceKill(process.cmd.Process)
			<-process.exited
		case <-ctx.Done():
			forceKill(process.cmd.Process)
			<-process.exited
		}
	}

	s.logger.Info("core process stopped", "pid", pid, "exit", exitDescription(process.waitErr))
	if s.onStop != nil {
		s.onStop()
	}
	return nil
}

// Running reports whether a started core has not yet exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.hasExited()
}

// PID returns the pid of the running core, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.hasExited() {
		return 0
	}
	return s.current.cmd.Process.Pid
}

func (c *child) hasExited() bool {
	select {
	case <-c.exited:
		return true
	default:
		return false
	}
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
