// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package serviceipc_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stelliberty/hub/lib/clock"
	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/serviceipc"
	"github.com/stelliberty/hub/lib/serviceipc/servicetest"
	"github.com/stelliberty/hub/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newClient(t *testing.T, config serviceipc.ClientConfig) *serviceipc.Client {
	t.Helper()
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	client, err := serviceipc.NewClient(config)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func dialerFor(server *servicetest.Server) *endpoint.Dialer {
	return endpoint.NewDialer(server.Path, time.Second)
}

// flakyConnector fails its first failFirst dials.
type flakyConnector struct {
	failFirst int32
	next      endpoint.Connector
	dials     atomic.Int32
}

func (c *flakyConnector) Connect(ctx context.Context) (endpoint.Stream, error) {
	if c.dials.Add(1) <= c.failFirst {
		return nil, errors.New("connection refused")
	}
	return c.next.Connect(ctx)
}

// drain blocks until the client closes its side.
func drain(conn net.Conn) { io.Copy(io.Discard, conn) }

func TestSendCommand(t *testing.T) {
	server := servicetest.Start(t, servicetest.Standard(4312, 60))
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	response, err := client.SendCommand(context.Background(), serviceipc.GetStatus{})
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	status, ok := response.(serviceipc.Status)
	if !ok {
		t.Fatalf("response = %#v, want Status", response)
	}
	if status.PID == nil || *status.PID != 4312 || status.Uptime != 60 || !status.Running {
		t.Fatalf("status = %+v", status)
	}
	if server.Connections() != 1 {
		t.Errorf("connections = %d, want 1", server.Connections())
	}
}

func TestSendCommandUsesFreshConnectionPerCall(t *testing.T) {
	server := servicetest.Start(t, servicetest.Standard(1, 1))
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	for range 3 {
		if _, err := client.SendCommand(context.Background(), serviceipc.Ping{}); err != nil {
			t.Fatal(err)
		}
	}
	if server.Connections() != 3 {
		t.Fatalf("connections = %d, want 3", server.Connections())
	}
}

func TestSendCommandServiceErrorIsNotRetried(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 3, Message: "core binary not found"})
	})
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	_, err := client.SendCommand(context.Background(), serviceipc.StartClash{CorePath: "/missing"})
	var serviceErr *serviceipc.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("err = %v, want *ServiceError", err)
	}
	if serviceErr.Code != 3 || serviceErr.Message != "core binary not found" {
		t.Fatalf("ServiceError = %+v", serviceErr)
	}
	if server.Connections() != 1 {
		t.Fatalf("connections = %d, want 1 (no retry)", server.Connections())
	}
}

func TestSendCommandRetriesWithLinearBackoff(t *testing.T) {
	server := servicetest.Start(t, servicetest.Standard(1, 1))
	connector := &flakyConnector{failFirst: 2, next: dialerFor(server)}
	fakeClock := clock.Fake(epoch)
	client := newClient(t, serviceipc.ClientConfig{Connector: connector, Clock: fakeClock})

	type result struct {
		response serviceipc.Response
		err      error
	}
	results := make(chan result, 1)
	go func() {
		response, err := client.SendCommand(context.Background(), serviceipc.Ping{})
		results <- result{response, err}
	}()

	for _, backoff := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		fakeClock.WaitForTimers(1)
		fakeClock.Advance(backoff - time.Millisecond)
		if fakeClock.PendingCount() != 1 {
			t.Fatalf("backoff of %v ended early", backoff)
		}
		fakeClock.Advance(time.Millisecond)
	}

	got := testutil.RequireReceive(t, results, 5*time.Second, "waiting for SendCommand")
	if got.err != nil {
		t.Fatalf("SendCommand: %v", got.err)
	}
	if _, ok := got.response.(serviceipc.Pong); !ok {
		t.Fatalf("response = %#v, want Pong", got.response)
	}
	if dials := connector.dials.Load(); dials != 3 {
		t.Errorf("dials = %d, want 3", dials)
	}
	if waited := fakeClock.Now().Sub(epoch); waited != 300*time.Millisecond {
		t.Errorf("total backoff = %v, want 300ms", waited)
	}
}

func TestSendCommandGivesUpAfterRetries(t *testing.T) {
	connector := &flakyConnector{failFirst: 100, next: nil}
	client := newClient(t, serviceipc.ClientConfig{Connector: connector, MaxRetries: -1})

	_, err := client.SendCommand(context.Background(), serviceipc.Ping{})
	var transportErr *serviceipc.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if dials := connector.dials.Load(); dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
}

func TestSendCommandRejectsOversizedResponse(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		prefix := make([]byte, 4)
		binary.LittleEndian.PutUint32(prefix, 11<<20)
		conn.Write(prefix)
		drain(conn)
	})
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	_, err := client.SendCommand(context.Background(), serviceipc.GetStatus{})
	if !errors.Is(err, serviceipc.ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
	if server.Connections() != 1 {
		t.Fatalf("connections = %d, want 1 (no retry)", server.Connections())
	}
}

func TestSendCommandMalformedResponseIsNotRetried(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		serviceipc.WriteFrame(conn, []byte("{not json"))
	})
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	_, err := client.SendCommand(context.Background(), serviceipc.Ping{})
	var protocolErr *serviceipc.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if server.Connections() != 1 {
		t.Fatalf("connections = %d, want 1", server.Connections())
	}
}

func TestSendCommandTimesOut(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		drain(conn)
	})
	client := newClient(t, serviceipc.ClientConfig{
		Connector:  dialerFor(server),
		Timeout:    50 * time.Millisecond,
		MaxRetries: -1,
	})

	_, err := client.SendCommand(context.Background(), serviceipc.Ping{})
	if !errors.Is(err, serviceipc.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSendCommandHonorsCancellation(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		drain(conn)
	})
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := client.SendCommand(ctx, serviceipc.Ping{})
		errs <- err
	}()
	cancel()

	if err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for cancelled SendCommand"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsServiceRunning(t *testing.T) {
	t.Run("heartbeat acknowledged", func(t *testing.T) {
		server := servicetest.Start(t, servicetest.Standard(1, 1))
		client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})
		if !client.IsServiceRunning(context.Background()) {
			t.Fatal("IsServiceRunning = false, want true")
		}
	})

	t.Run("wrong answer", func(t *testing.T) {
		server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
			servicetest.Reply(conn, serviceipc.Pong{})
		})
		client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})
		if client.IsServiceRunning(context.Background()) {
			t.Fatal("IsServiceRunning = true for a Pong reply")
		}
	})

	t.Run("endpoint missing", func(t *testing.T) {
		connector := endpoint.NewDialer(testutil.SocketPath(t, "absent.sock"), time.Second)
		client := newClient(t, serviceipc.ClientConfig{Connector: connector})
		if client.IsServiceRunning(context.Background()) {
			t.Fatal("IsServiceRunning = true without a helper")
		}
	})

	t.Run("single attempt", func(t *testing.T) {
		server := servicetest.Start(t, servicetest.Standard(1, 1))
		connector := &flakyConnector{failFirst: 1, next: dialerFor(server)}
		client := newClient(t, serviceipc.ClientConfig{Connector: connector})
		if client.IsServiceRunning(context.Background()) {
			t.Fatal("IsServiceRunning retried after a failed dial")
		}
		if dials := connector.dials.Load(); dials != 1 {
			t.Fatalf("dials = %d, want 1", dials)
		}
	})
}

// logServer acknowledges the subscription, sends lines, and then
// either closes or waits for the client to close.
func logServer(lines int, holdOpen bool) servicetest.Handler {
	return func(conn net.Conn, command serviceipc.Command) {
		if _, ok := command.(serviceipc.StreamLogs); !ok {
			servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 1, Message: "unexpected command"})
			return
		}
		servicetest.Reply(conn, serviceipc.Success{Message: "streaming"})
		for i := 1; i <= lines; i++ {
			servicetest.Reply(conn, serviceipc.LogStream{Line: fmt.Sprintf("line %d", i)})
		}
		if holdOpen {
			drain(conn)
		}
	}
}

func TestStreamLogsStopsWhenCallbackDeclines(t *testing.T) {
	// The helper sends three lines, then waits to see what the client
	// does. Only after the client has hung up does it try a fourth.
	clientHungUp := make(chan error, 1)
	server := servicetest.Start(t, func(conn net.Conn, command serviceipc.Command) {
		if _, ok := command.(serviceipc.StreamLogs); !ok {
			servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 1, Message: "unexpected command"})
			return
		}
		servicetest.Reply(conn, serviceipc.Success{Message: "streaming"})
		for i := 1; i <= 3; i++ {
			servicetest.Reply(conn, serviceipc.LogStream{Line: fmt.Sprintf("line %d", i)})
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err := conn.Read(make([]byte, 1))
		clientHungUp <- err
		servicetest.Reply(conn, serviceipc.LogStream{Line: "line 4"})
	})
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	var received []string
	err := client.StreamLogs(context.Background(), func(line string) bool {
		received = append(received, line)
		return len(received) < 3
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if len(received) != 3 || received[0] != "line 1" || received[2] != "line 3" {
		t.Fatalf("received = %q, want lines 1 through 3", received)
	}

	readErr := testutil.RequireReceive(t, clientHungUp, 10*time.Second, "waiting for the helper to observe the hang-up")
	if !errors.Is(readErr, io.EOF) {
		t.Fatalf("helper read after third line = %v, want io.EOF from the closed stream", readErr)
	}
	if len(received) != 3 {
		t.Fatalf("callback ran %d times after declining, want 3 total", len(received))
	}
}

func TestStreamLogsEndsCleanlyWhenHelperCloses(t *testing.T) {
	server := servicetest.Start(t, logServer(2, false))
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	calls := 0
	err := client.StreamLogs(context.Background(), func(string) bool {
		calls++
		return true
	})
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestStreamLogsFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler servicetest.Handler
		check   func(t *testing.T, err error)
	}{
		{
			name: "subscription rejected",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 5, Message: "log capture disabled"})
			},
			check: func(t *testing.T, err error) {
				var serviceErr *serviceipc.ServiceError
				if !errors.As(err, &serviceErr) || serviceErr.Code != 5 {
					t.Fatalf("err = %v, want ServiceError code 5", err)
				}
			},
		},
		{
			name: "unexpected acknowledgement",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.Pong{})
			},
			check: func(t *testing.T, err error) {
				var protocolErr *serviceipc.ProtocolError
				if !errors.As(err, &protocolErr) {
					t.Fatalf("err = %v, want *ProtocolError", err)
				}
			},
		},
		{
			name: "error frame mid stream",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.Success{})
				servicetest.Reply(conn, serviceipc.LogStream{Line: "first"})
				servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 9, Message: "core exited"})
			},
			check: func(t *testing.T, err error) {
				var serviceErr *serviceipc.ServiceError
				if !errors.As(err, &serviceErr) || serviceErr.Code != 9 {
					t.Fatalf("err = %v, want ServiceError code 9", err)
				}
			},
		},
		{
			name: "unexpected frame mid stream",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.Success{})
				servicetest.Reply(conn, serviceipc.HeartbeatAck{})
			},
			check: func(t *testing.T, err error) {
				var protocolErr *serviceipc.ProtocolError
				if !errors.As(err, &protocolErr) {
					t.Fatalf("err = %v, want *ProtocolError", err)
				}
			},
		},
		{
			name: "truncated frame",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.Success{})
				conn.Write([]byte{10, 0, 0, 0, '{', '"'})
			},
			check: func(t *testing.T, err error) {
				var transportErr *serviceipc.TransportError
				if !errors.As(err, &transportErr) || !errors.Is(err, io.ErrUnexpectedEOF) {
					t.Fatalf("err = %v, want TransportError wrapping io.ErrUnexpectedEOF", err)
				}
			},
		},
		{
			name: "oversized line",
			handler: func(conn net.Conn, _ serviceipc.Command) {
				servicetest.Reply(conn, serviceipc.Success{})
				prefix := make([]byte, 4)
				binary.LittleEndian.PutUint32(prefix, serviceipc.MaxLogLineSize+1)
				conn.Write(prefix)
				drain(conn)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, serviceipc.ErrResponseTooLarge) {
					t.Fatalf("err = %v, want ErrResponseTooLarge", err)
				}
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := servicetest.Start(t, test.handler)
			client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

			calls := 0
			err := client.StreamLogs(context.Background(), func(string) bool {
				calls++
				return true
			})
			test.check(t, err)
			if calls > 1 {
				t.Errorf("calls = %d, want at most 1", calls)
			}
		})
	}
}

func TestStreamLogsCancellationClosesStream(t *testing.T) {
	server := servicetest.Start(t, logServer(1, true))
	client := newClient(t, serviceipc.ClientConfig{Connector: dialerFor(server)})

	ctx, cancel := context.WithCancel(context.Background())
	firstLine := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		errs <- client.StreamLogs(ctx, func(line string) bool {
			firstLine <- line
			return true
		})
	}()

	testutil.RequireReceive(t, firstLine, 5*time.Second, "waiting for first log line")
	cancel()
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "waiting for StreamLogs to return"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
