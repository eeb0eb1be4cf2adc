// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package subscription manages WebSocket streams from the proxy core,
// such as /traffic and /logs, carried over the same local endpoint as
// the control API.
//
// Each subscription is one WebSocket connection with its own read
// goroutine. Messages are delivered to the subscriber's callback in
// arrival order. A subscription ends when it is disconnected, when the
// core closes it, or when the endpoint goes away.
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stelliberty/hub/lib/netutil"
)

// DefaultHandshakeTimeout bounds the WebSocket upgrade.
const DefaultHandshakeTimeout = 5 * time.Second

// closeGracePeriod bounds the close frame written on Disconnect.
const closeGracePeriod = time.Second

// DialFunc opens the raw connection a subscription runs over. It has
// the shape of net.Dialer.DialContext; the address is ignored by the
// local endpoint dialers.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures a Manager.
type Config struct {
	// Dial opens connections to the core's endpoint. Required.
	Dial DialFunc

	// HandshakeTimeout defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// OnClosed, if set, is called once for every subscription that
	// ends for any reason other than Disconnect or DisconnectAll.
	OnClosed func(id uint32, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the active subscriptions. Safe for concurrent use.
type Manager struct {
	dialer   websocket.Dialer
	onClosed func(id uint32, err error)
	logger   *slog.Logger

	mu            sync.Mutex
	nextID        uint32
	subscriptions map[uint32]*stream
}

type stream struct {
	id    uint32
	topic string
	conn  *websocket.Conn

	// detached is set when Disconnect removed the stream, so the read
	// goroutine does not report its ending as unexpected.
	detached bool
	done     chan struct{}
}

// New creates a Manager with no subscriptions.
func New(config Config) (*Manager, error) {
	if config.Dial == nil {
		return nil, errors.New("subscription: Dial is required")
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		dialer: websocket.Dialer{
			NetDialContext:   config.Dial,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		onClosed:      config.OnClosed,
		logger:        config.Logger,
		subscriptions: make(map[uint32]*stream),
	}, nil
}

// Connect subscribes to topic, a path with optional query such as
// "/logs?level=info", and returns the subscription id. onMessage is
// called from the subscription's goroutine with each JSON message;
// non-JSON messages are dropped. onMessage must not call Disconnect
// for its own subscription.
func (m *Manager) Connect(ctx context.Context, topic string, onMessage func(message json.RawMessage)) (uint32, error) {
	conn, response, err := m.dialer.DialContext(ctx, "ws://localhost"+topic, nil)
	if err != nil {
		if response != nil {
			return 0, fmt.Errorf("subscribing to %s: %w (HTTP %d)", topic, err, response.StatusCode)
		}
		return 0, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	m.mu.Lock()
	m.nextID++
	subscription := &stream{
		id:    m.nextID,
		topic: topic,
		conn:  conn,
		done:  make(chan struct{}),
	}
	m.subscriptions[subscription.id] = subscription
	m.mu.Unlock()

	go m.read(subscription, onMessage)
	m.logger.Debug("subscription established", "id", subscription.id, "topic", topic)
	return subscription.id, nil
}

func (m *Manager) read(subscription *stream, onMessage func(json.RawMessage)) {
	defer close(subscription.done)

	var readErr error
	for {
		_, data, err := subscription.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if !json.Valid(data) {
			m.logger.Debug("dropping non-JSON subscription message", "id", subscription.id, "topic", subscription.topic)
			continue
		}
		onMessage(json.RawMessage(data))
	}
	subscription.conn.Close()

	m.mu.Lock()
	detached := subscription.detached
	if !detached {
		delete(m.subscriptions, subscription.id)
	}
	m.mu.Unlock()
	if detached {
		return
	}

	if endedUnexpectedly(readErr) {
		m.logger.Warn("subscription closed unexpectedly", "id", subscription.id, "topic", subscription.topic, "error", readErr)
	} else {
		m.logger.Debug("subscription ended", "id", subscription.id, "topic", subscription.topic, "error", readErr)
	}
	if m.onClosed != nil {
		m.onClosed(subscription.id, readErr)
	}
}

// Disconnect closes subscription id and waits for its goroutine to
// finish. It reports whether id was active.
func (m *Manager) Disconnect(id uint32) bool {
	m.mu.Lock()
	subscription, ok := m.subscriptions[id]
	if ok {
		subscription.detached = true
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.shutdown(subscription)
	m.logger.Debug("subscription disconnected", "id", id, "topic", subscription.topic)
	return true
}

// DisconnectAll closes every subscription and returns how many there
// were.
func (m *Manager) DisconnectAll() int {
	m.mu.Lock()
	active := make([]*stream, 0, len(m.subscriptions))
	for id, subscription := range m.subscriptions {
		subscription.detached = true
		active = append(active, subscription)
		delete(m.subscriptions, id)
	}
	m.mu.Unlock()

	for _, subscription := range active {
		m.shutdown(subscription)
	}
	if len(active) > 0 {
		m.logger.Info("disconnected all subscriptions", "count", len(active))
	}
	return len(active)
}

// Active reports whether id is still open. A subscription the core
// ended is no longer active by the time OnClosed runs for it.
func (m *Manager) Active(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[id]
	return ok
}

// Len returns the number of active subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

func (m *Manager) shutdown(subscription *stream) {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	subscription.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGracePeriod))
	subscription.conn.Close()
	<-subscription.done
}

// endedUnexpectedly reports whether a read error is worth a warning.
// Normal close codes are routine. So is a core that went away: gorilla
// reports a dropped connection as an abnormal closure, and transport
// teardown shows up as a reset or broken pipe.
func endedUnexpectedly(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return websocket.IsUnexpectedCloseError(closeErr,
			websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure)
	}
	return !netutil.IsExpectedCloseError(err)
}
