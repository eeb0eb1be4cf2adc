// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stelliberty/hub/lib/corepool"
	"github.com/stelliberty/hub/lib/frontend"
	"github.com/stelliberty/hub/lib/gate"
	"github.com/stelliberty/hub/lib/serviceipc"
)

// controlQueueSize bounds control messages waiting for the control
// goroutine. Dispatch blocks when it is full.
const controlQueueSize = 64

// notReadyLogInterval throttles the "core endpoint not ready" message
// logged while the core is still starting.
const notReadyLogInterval = 5 * time.Second

// Subscriber manages push subscriptions to the core.
type Subscriber interface {
	Connect(ctx context.Context, topic string, onMessage func(message json.RawMessage)) (uint32, error)
	Disconnect(id uint32) bool
	DisconnectAll() int
	Active(id uint32) bool
}

// ProcessSupervisor runs the core as a direct child process.
type ProcessSupervisor interface {
	Start(executable string, args []string) (int, error)
	Stop(ctx context.Context) error
}

// ServiceManager runs the core through the helper service.
type ServiceManager interface {
	Status(ctx context.Context) serviceipc.ServiceStatus
	StartCore(ctx context.Context, options serviceipc.StartOptions) (*uint32, error)
	StopCore(ctx context.Context) error
	StreamLogs(ctx context.Context, callback func(line string) bool) error
}

// Config holds the collaborators of a Runtime.
type Config struct {
	// Pool and Gate are required.
	Pool *corepool.Pool
	Gate *gate.Gate

	// Sink receives every outbound event. Required.
	Sink frontend.Sink

	// Subscriptions, Supervisor, and Service are optional. Messages
	// that need a missing collaborator are answered with a failure.
	Subscriptions Subscriber
	Supervisor    ProcessSupervisor
	Service       ServiceManager

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Runtime is the process-wide handler context.
type Runtime struct {
	pool          *corepool.Pool
	gate          *gate.Gate
	sink          frontend.Sink
	subscriptions Subscriber
	supervisor    ProcessSupervisor
	service       ServiceManager
	logger        *slog.Logger

	notReady rate.Sometimes

	// inflight tracks request goroutines and the service log stream.
	inflight sync.WaitGroup

	// intake guards closed and sends on control. It is separate from
	// mu because a full control queue blocks Dispatch while the control
	// goroutine needs mu to make progress.
	intake      sync.Mutex
	closed      bool
	control     chan queuedMessage
	controlDone chan struct{}

	mu          sync.Mutex
	trafficID   uint32
	logID       uint32
	serviceLogs *logStream
}

// logStream is the running helper log stream.
type logStream struct {
	cancel context.CancelFunc
}

type queuedMessage struct {
	ctx     context.Context
	message frontend.Message
}

// New creates a Runtime and starts its control goroutine.
func New(config Config) (*Runtime, error) {
	if config.Pool == nil || config.Gate == nil || config.Sink == nil {
		return nil, errors.New("hub: Pool, Gate, and Sink are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	runtime := &Runtime{
		pool:          config.Pool,
		gate:          config.Gate,
		sink:          config.Sink,
		subscriptions: config.Subscriptions,
		supervisor:    config.Supervisor,
		service:       config.Service,
		logger:        config.Logger,
		notReady:      rate.Sometimes{First: 1, Interval: notReadyLogInterval},
		control:       make(chan queuedMessage, controlQueueSize),
		controlDone:   make(chan struct{}),
	}
	go runtime.runControl()
	return runtime, nil
}

// Dispatch hands message to its handler and returns without waiting
// for it. Messages dispatched after Shutdown are dropped.
func (r *Runtime) Dispatch(ctx context.Context, message frontend.Message) {
	r.intake.Lock()
	defer r.intake.Unlock()
	if r.closed {
		r.logger.Warn("dropping message after shutdown", "type", frontend.MessageType(message))
		return
	}

	if request, ok := message.(frontend.Request); ok {
		r.inflight.Go(func() { r.handleRequest(ctx, request) })
		return
	}
	r.control <- queuedMessage{ctx: ctx, message: message}
}

// Wait blocks until every dispatched request has been answered.
func (r *Runtime) Wait() {
	r.inflight.Wait()
}

// Shutdown stops accepting messages, fails mutations still waiting
// for the gate, drains the control queue and in-flight requests, and
// releases all core resources. It returns early with ctx's error if
// draining does not finish in time.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.intake.Lock()
	if r.closed {
		r.intake.Unlock()
		return nil
	}
	r.closed = true
	close(r.control)
	r.intake.Unlock()

	r.gate.Close()

	drained := make(chan struct{})
	go func() {
		<-r.controlDone
		r.stopServiceLogs(false)
		r.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		r.logger.Warn("shutdown timed out waiting for in-flight requests")
		return ctx.Err()
	}

	r.ReleaseCoreResources()
	return nil
}

func (r *Runtime) runControl() {
	defer close(r.controlDone)
	for queued := range r.control {
		r.handleControl(queued.ctx, queued.message)
	}
}

func (r *Runtime) handleControl(ctx context.Context, message frontend.Message) {
	switch message := message.(type) {
	case frontend.StartTraffic:
		r.startTraffic(ctx)
	case frontend.StopTraffic:
		r.stopTraffic()
	case frontend.StartLogs:
		r.startLogs(ctx)
	case frontend.StopLogs:
		r.stopLogs()
	case frontend.StartCore:
		r.startCore(message)
	case frontend.StopCore:
		r.stopCore(ctx)
	case frontend.ServiceStartCore:
		r.serviceStartCore(ctx, message)
	case frontend.ServiceStopCore:
		r.serviceStopCore(ctx)
	case frontend.GetServiceStatus:
		r.serviceStatus(ctx)
	case frontend.StartServiceLogs:
		r.startServiceLogs(ctx)
	case frontend.StopServiceLogs:
		r.stopServiceLogs(true)
	default:
		r.logger.Warn("no handler for message", "type", frontend.MessageType(message))
	}
}

// ReleaseCoreResources closes every pooled connection and every
// subscription. Called when the core stops, since both point at an
// endpoint that is going away.
func (r *Runtime) ReleaseCoreResources() {
	r.mu.Lock()
	r.trafficID = 0
	r.logID = 0
	r.mu.Unlock()

	subscriptions := 0
	if r.subscriptions != nil {
		subscriptions = r.subscriptions.DisconnectAll()
	}
	connections := r.pool.Clear()
	r.logger.Info("released core resources", "connections", connections, "subscriptions", subscriptions)
}

func (r *Runtime) send(event frontend.Event) {
	if err := r.sink.Send(event); err != nil {
		r.logger.Warn("delivering event to front end failed", "error", err)
	}
}
