// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/testutil"
)

// fakeCore serves WebSocket topics on a Unix socket. Each accepted
// subscription is announced on accepted; the test pushes messages with
// conn.WriteMessage and observes the close code on closed.
type fakeCore struct {
	path     string
	accepted chan *websocket.Conn
	closed   chan int
}

func startFakeCore(t *testing.T) *fakeCore {
	t.Helper()
	core := &fakeCore{
		path:     testutil.SocketPath(t, "core.sock"),
		accepted: make(chan *websocket.Conn, 8),
		closed:   make(chan int, 8),
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	for _, topic := range []string{"/traffic", "/logs"} {
		mux.HandleFunc(topic, func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			core.accepted <- conn
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					code := -1
					if closeErr, ok := err.(*websocket.CloseError); ok {
						code = closeErr.Code
					}
					core.closed <- code
					return
				}
			}
		})
	}

	listener, err := net.Listen("unix", core.path)
	if err != nil {
		t.Fatal(err)
	}
	server := httptest.NewUnstartedServer(mux)
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)
	return core
}

func newManager(t *testing.T, core *fakeCore, onClosed func(uint32, error)) *Manager {
	t.Helper()
	manager, err := New(Config{
		Dial:     endpoint.NewDialer(core.path, time.Second).DialContext,
		OnClosed: onClosed,
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { manager.DisconnectAll() })
	return manager
}

type trafficSample struct {
	Up   uint64 `json:"up"`
	Down uint64 `json:"down"`
}

func TestConnectDeliversMessages(t *testing.T) {
	core := startFakeCore(t)
	manager := newManager(t, core, nil)

	samples := make(chan trafficSample, 4)
	id, err := manager.Connect(context.Background(), "/traffic", func(message json.RawMessage) {
		var sample trafficSample
		if err := json.Unmarshal(message, &sample); err == nil {
			samples <- sample
		}
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if id != 1 {
		t.Fatalf("id = %d, want 1", id)
	}

	server := testutil.RequireReceive(t, core.accepted, 5*time.Second, "waiting for upgrade")
	server.WriteMessage(websocket.TextMessage, []byte("not json"))
	server.WriteMessage(websocket.TextMessage, []byte(`{"up":120,"down":4096}`))
	server.WriteMessage(websocket.TextMessage, []byte(`{"up":0,"down":1}`))

	first := testutil.RequireReceive(t, samples, 5*time.Second, "waiting for first sample")
	second := testutil.RequireReceive(t, samples, 5*time.Second, "waiting for second sample")
	if first != (trafficSample{Up: 120, Down: 4096}) || second != (trafficSample{Up: 0, Down: 1}) {
		t.Fatalf("samples = %+v, %+v", first, second)
	}
}

func TestDisconnectSendsNormalClose(t *testing.T) {
	core := startFakeCore(t)
	closedIDs := make(chan uint32, 1)
	closeErrs := make(chan error, 1)
	manager := newManager(t, core, func(id uint32, err error) {
		closeErrs <- err
		closedIDs <- id
	})

	id, err := manager.Connect(context.Background(), "/logs?level=info", func(json.RawMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, core.accepted, 5*time.Second, "waiting for upgrade")

	if !manager.Disconnect(id) {
		t.Fatal("Disconnect reported id as inactive")
	}
	if code := testutil.RequireReceive(t, core.closed, 5*time.Second, "waiting for close"); code != websocket.CloseNormalClosure {
		t.Fatalf("close code = %d, want %d", code, websocket.CloseNormalClosure)
	}
	if manager.Len() != 0 {
		t.Fatalf("Len = %d, want 0", manager.Len())
	}
	if manager.Disconnect(id) {
		t.Fatal("second Disconnect reported id as active")
	}
	select {
	case closedID := <-closedIDs:
		t.Fatalf("OnClosed called for %d after Disconnect", closedID)
	default:
	}
}

func TestDisconnectAll(t *testing.T) {
	core := startFakeCore(t)
	manager := newManager(t, core, nil)

	for _, topic := range []string{"/traffic", "/logs?level=info", "/traffic"} {
		if _, err := manager.Connect(context.Background(), topic, func(json.RawMessage) {}); err != nil {
			t.Fatal(err)
		}
		testutil.RequireReceive(t, core.accepted, 5*time.Second, "waiting for upgrade")
	}
	if manager.Len() != 3 {
		t.Fatalf("Len = %d, want 3", manager.Len())
	}

	if count := manager.DisconnectAll(); count != 3 {
		t.Fatalf("DisconnectAll = %d, want 3", count)
	}
	for range 3 {
		testutil.RequireReceive(t, core.closed, 5*time.Second, "waiting for close")
	}
	if manager.Len() != 0 {
		t.Fatalf("Len = %d, want 0", manager.Len())
	}
}

func TestCoreClosingSubscriptionCallsOnClosed(t *testing.T) {
	core := startFakeCore(t)
	closedIDs := make(chan uint32, 1)
	closeErrs := make(chan error, 1)
	manager := newManager(t, core, func(id uint32, err error) {
		closeErrs <- err
		closedIDs <- id
	})

	id, err := manager.Connect(context.Background(), "/traffic", func(json.RawMessage) {})
	if err != nil {
		t.Fatal(err)
	}
	server := testutil.RequireReceive(t, core.accepted, 5*time.Second, "waiting for upgrade")
	server.Close()

	if closedID := testutil.RequireReceive(t, closedIDs, 5*time.Second, "waiting for OnClosed"); closedID != id {
		t.Fatalf("OnClosed id = %d, want %d", closedID, id)
	}
	if manager.Active(id) {
		t.Error("subscription still active after OnClosed")
	}
	if err := <-closeErrs; endedUnexpectedly(err) {
		t.Errorf("dropped connection classified as unexpected: %v", err)
	}
	if manager.Len() != 0 {
		t.Fatalf("Len = %d, want 0", manager.Len())
	}
}

func TestConnectFailures(t *testing.T) {
	core := startFakeCore(t)
	manager := newManager(t, core, nil)

	if _, err := manager.Connect(context.Background(), "/unknown", func(json.RawMessage) {}); err == nil {
		t.Fatal("expected handshake failure for an unknown topic")
	}

	missing, err := New(Config{
		Dial:   endpoint.NewDialer(testutil.SocketPath(t, "absent.sock"), time.Second).DialContext,
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := missing.Connect(context.Background(), "/traffic", func(json.RawMessage) {}); err == nil {
		t.Fatal("expected dial failure without an endpoint")
	}
	if manager.Len() != 0 || missing.Len() != 0 {
		t.Fatal("failed connects must not register subscriptions")
	}
}

func TestNewRequiresDial(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing Dial")
	}
}

func TestEndedUnexpectedly(t *testing.T) {
	reset := &net.OpError{Op: "read", Net: "unix", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	brokenPipe := &net.OpError{Op: "write", Net: "unix", Err: os.NewSyscallError("write", syscall.EPIPE)}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, false},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, false},
		{"dropped connection", &websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: io.ErrUnexpectedEOF.Error()}, false},
		{"internal error close", &websocket.CloseError{Code: websocket.CloseInternalServerErr}, true},
		{"policy violation close", &websocket.CloseError{Code: websocket.ClosePolicyViolation}, true},
		{"eof", io.EOF, false},
		{"closed connection", fmt.Errorf("reading: %w", net.ErrClosed), false},
		{"connection reset", reset, false},
		{"broken pipe", brokenPipe, false},
		{"timeout", &net.OpError{Op: "read", Net: "unix", Err: os.ErrDeadlineExceeded}, true},
		{"other", errors.New("bad frame"), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := endedUnexpectedly(test.err); got != test.want {
				t.Errorf("endedUnexpectedly(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
