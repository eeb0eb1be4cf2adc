// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package corepool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stelliberty/hub/lib/clock"
	"github.com/stelliberty/hub/lib/coreproto"
	"github.com/stelliberty/hub/lib/endpoint"
)

// Defaults for Config fields left at zero.
const (
	DefaultCapacity      = 100
	DefaultIdleTimeout   = 500 * time.Millisecond
	DefaultSweepInterval = 30 * time.Second
)

// Eviction reasons.
const (
	reasonExpired = "expired"
	reasonDead    = "dead"
)

// Conn is a connection checked out of (or destined for) the pool.
// Exactly one of the pool or the caller owns it at a time.
type Conn struct {
	endpoint.Stream

	// Reader wraps Stream. All reads go through it.
	Reader *bufio.Reader

	lastUsed time.Time
}

// Do writes request and reads one response.
func (c *Conn) Do(request []byte) (*coreproto.Response, error) {
	return coreproto.SendAndReceive(c.Stream, c.Reader, request)
}

// Config configures a Pool.
type Config struct {
	// Connector dials new connections. Required.
	Connector endpoint.Connector

	// Capacity bounds the number of idle connections.
	Capacity int

	// IdleTimeout is the maximum idle age of a reusable connection.
	IdleTimeout time.Duration

	// SweepInterval is the period of Run.
	SweepInterval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the pool's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Pool is a bounded FIFO of idle connections. Safe for concurrent use.
type Pool struct {
	connector     endpoint.Connector
	capacity      int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics

	mu   sync.Mutex
	idle []*Conn

	// afterSweep is called by Run after every sweep attempt with the
	// number of evicted connections. Tests use it to synchronize.
	afterSweep func(evicted int)
}

// New creates an empty Pool.
func New(config Config) (*Pool, error) {
	if config.Connector == nil {
		return nil, errors.New("corepool: Connector is required")
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	poolMetrics := newMetrics()
	if config.Registerer != nil {
		if err := poolMetrics.register(config.Registerer); err != nil {
			return nil, fmt.Errorf("registering pool metrics: %w", err)
		}
	}

	return &Pool{
		connector:     config.Connector,
		capacity:      config.Capacity,
		idleTimeout:   config.IdleTimeout,
		sweepInterval: config.SweepInterval,
		clock:         config.Clock,
		logger:        config.Logger,
		metrics:       poolMetrics,
	}, nil
}

// Acquire returns the oldest valid idle connection, or dials a new
// one when none is left. Invalid connections found on the way are
// closed.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if conn := p.takeIdle(); conn != nil {
		p.metrics.acquisitions.WithLabelValues("reused").Inc()
		return conn, nil
	}

	stream, err := p.connector.Connect(ctx)
	if err != nil {
		p.metrics.acquisitions.WithLabelValues("dial_failed").Inc()
		return nil, err
	}
	p.metrics.acquisitions.WithLabelValues("dialed").Inc()
	return &Conn{
		Stream:   stream,
		Reader:   bufio.NewReader(stream),
		lastUsed: p.clock.Now(),
	}, nil
}

func (p *Pool) takeIdle() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.updateIdleGauge()

	now := p.clock.Now()
	for len(p.idle) > 0 {
		conn := p.idle[0]
		p.idle[0] = nil
		p.idle = p.idle[1:]

		if reason, ok := p.validate(conn, now); !ok {
			p.evict(conn, reason)
			continue
		}
		return conn
	}
	return nil
}

// Release returns conn to the back of the pool, or closes it when
// the pool is full.
func (p *Pool) Release(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if len(p.idle) >= p.capacity {
		p.mu.Unlock()
		conn.Close()
		p.metrics.releases.WithLabelValues("dropped").Inc()
		p.logger.Debug("pool full, dropping connection", "capacity", p.capacity)
		return
	}
	conn.lastUsed = p.clock.Now()
	p.idle = append(p.idle, conn)
	p.updateIdleGauge()
	p.mu.Unlock()

	p.metrics.releases.WithLabelValues("pooled").Inc()
}

// Discard closes conn without returning it to the pool.
func (p *Pool) Discard(conn *Conn) {
	if conn == nil {
		return
	}
	conn.Close()
	p.metrics.releases.WithLabelValues("discarded").Inc()
}

// Sweep evicts every idle connection that would fail validation,
// keeping the order of the survivors. If another goroutine holds the
// pool, the round is skipped and Sweep returns 0.
func (p *Pool) Sweep() int {
	if !p.mu.TryLock() {
		p.metrics.sweeps.WithLabelValues("skipped").Inc()
		p.logger.Debug("pool busy, skipping sweep")
		return 0
	}

	now := p.clock.Now()
	before := len(p.idle)
	survivors := p.idle[:0]
	for _, conn := range p.idle {
		if reason, ok := p.validate(conn, now); !ok {
			p.evict(conn, reason)
			continue
		}
		survivors = append(survivors, conn)
	}
	clear(p.idle[len(survivors):])
	p.idle = survivors
	p.updateIdleGauge()
	remaining := len(p.idle)
	p.mu.Unlock()

	p.metrics.sweeps.WithLabelValues("ran").Inc()
	evicted := before - remaining
	if evicted > 0 {
		p.logger.Info("swept idle connections", "evicted", evicted, "remaining", remaining)
	} else {
		p.logger.Debug("swept idle connections", "evicted", 0, "remaining", remaining)
	}
	return evicted
}

// Run sweeps every SweepInterval until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := p.Sweep()
			if p.afterSweep != nil {
				p.afterSweep(evicted)
			}
		}
	}
}

// Clear closes every idle connection and returns how many there were.
// Called when the core process stops and its endpoint goes away.
func (p *Pool) Clear() int {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.updateIdleGauge()
	p.mu.Unlock()

	for _, conn := range idle {
		conn.Close()
	}
	if len(idle) > 0 {
		p.logger.Info("cleared connection pool", "closed", len(idle))
	}
	return len(idle)
}

// Len returns the number of idle connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// validate reports whether conn may be reused at now, and the
// eviction reason when it may not. Caller holds p.mu.
func (p *Pool) validate(conn *Conn, now time.Time) (string, bool) {
	if now.Sub(conn.lastUsed) >= p.idleTimeout {
		return reasonExpired, false
	}

	// Bytes already pulled into the reader mean the stream is open.
	if conn.Reader.Buffered() > 0 {
		p.logger.Warn("idle connection has unread buffered bytes", "buffered", conn.Reader.Buffered())
		return "", true
	}

	result, err := conn.TryPeek()
	switch result {
	case endpoint.PeekEmpty:
		return "", true
	case endpoint.PeekData:
		p.logger.Warn("idle connection has unsolicited bytes waiting")
		return "", true
	case endpoint.PeekClosed:
		return reasonDead, false
	default:
		p.logger.Debug("liveness peek failed", "error", err)
		return reasonDead, false
	}
}

// evict closes conn and counts it. Caller holds p.mu.
func (p *Pool) evict(conn *Conn, reason string) {
	conn.Close()
	p.metrics.evictions.WithLabelValues(reason).Inc()
}

// updateIdleGauge must be called with p.mu held.
func (p *Pool) updateIdleGauge() {
	p.metrics.idle.Set(float64(len(p.idle)))
}
