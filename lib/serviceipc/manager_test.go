// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package serviceipc_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/serviceipc"
	"github.com/stelliberty/hub/lib/serviceipc/servicetest"
	"github.com/stelliberty/hub/lib/testutil"
)

func newManager(t *testing.T, connector endpoint.Connector) *serviceipc.Manager {
	t.Helper()
	client := newClient(t, serviceipc.ClientConfig{Connector: connector, MaxRetries: -1})
	return serviceipc.NewManager(client, slog.New(slog.DiscardHandler))
}

func TestManagerStatus(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		server := servicetest.Start(t, servicetest.Standard(4312, 3600))
		status := newManager(t, dialerFor(server)).Status(context.Background())
		want := serviceipc.ServiceStatus{State: serviceipc.StateRunning, PID: 4312, Uptime: 3600}
		if status != want {
			t.Fatalf("Status = %+v, want %+v", status, want)
		}
	})

	t.Run("core stopped", func(t *testing.T) {
		server := servicetest.Start(t, func(conn net.Conn, command serviceipc.Command) {
			switch command.(type) {
			case serviceipc.Heartbeat:
				servicetest.Reply(conn, serviceipc.HeartbeatAck{})
			case serviceipc.GetStatus:
				servicetest.Reply(conn, serviceipc.Status{Uptime: 5})
			}
		})
		status := newManager(t, dialerFor(server)).Status(context.Background())
		if status.State != serviceipc.StateStopped {
			t.Fatalf("Status = %+v, want stopped", status)
		}
	})

	t.Run("helper unreachable", func(t *testing.T) {
		connector := endpoint.NewDialer(testutil.SocketPath(t, "absent.sock"), time.Second)
		status := newManager(t, connector).Status(context.Background())
		if status.State != serviceipc.StateUnknown {
			t.Fatalf("Status = %+v, want unknown", status)
		}
	})

	t.Run("status query rejected", func(t *testing.T) {
		server := servicetest.Start(t, func(conn net.Conn, command serviceipc.Command) {
			switch command.(type) {
			case serviceipc.Heartbeat:
				servicetest.Reply(conn, serviceipc.HeartbeatAck{})
			default:
				servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 1, Message: "busy"})
			}
		})
		status := newManager(t, dialerFor(server)).Status(context.Background())
		if status.State != serviceipc.StateUnknown {
			t.Fatalf("Status = %+v, want unknown", status)
		}
	})
}

func TestManagerStartCore(t *testing.T) {
	startCommands := make(chan serviceipc.StartClash, 1)
	server := servicetest.Start(t, func(conn net.Conn, command serviceipc.Command) {
		if start, ok := command.(serviceipc.StartClash); ok {
			startCommands <- start
		}
		servicetest.Standard(777, 1)(conn, command)
	})
	manager := newManager(t, dialerFor(server))

	pid, err := manager.StartCore(context.Background(), serviceipc.StartOptions{
		CorePath:           "/opt/core/mihomo",
		ConfigPath:         "/etc/core/config.yaml",
		DataDir:            "/var/lib/core",
		ExternalController: "127.0.0.1:9090",
	})
	if err != nil {
		t.Fatalf("StartCore: %v", err)
	}
	if pid == nil || *pid != 777 {
		t.Fatalf("pid = %v, want 777", pid)
	}
	received := testutil.RequireReceive(t, startCommands, 5*time.Second, "waiting for StartClash")
	if received.CorePath != "/opt/core/mihomo" || received.ExternalController != "127.0.0.1:9090" {
		t.Fatalf("helper received %+v", received)
	}
	if server.Connections() != 2 {
		t.Fatalf("connections = %d, want 2 (start then status)", server.Connections())
	}
}

func TestManagerStartCoreWithoutPID(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, command serviceipc.Command) {
		switch command.(type) {
		case serviceipc.StartClash:
			servicetest.Reply(conn, serviceipc.Success{})
		default:
			servicetest.Reply(conn, serviceipc.Pong{})
		}
	})

	pid, err := newManager(t, dialerFor(server)).StartCore(context.Background(), serviceipc.StartOptions{})
	if err != nil || pid != nil {
		t.Fatalf("StartCore = %v, %v; want nil pid and no error", pid, err)
	}
}

func TestManagerStartCoreRejected(t *testing.T) {
	server := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		servicetest.Reply(conn, serviceipc.ErrorResponse{Code: 2, Message: "config not found"})
	})

	_, err := newManager(t, dialerFor(server)).StartCore(context.Background(), serviceipc.StartOptions{})
	var serviceErr *serviceipc.ServiceError
	if !errors.As(err, &serviceErr) || !strings.Contains(err.Error(), "config not found") {
		t.Fatalf("err = %v, want ServiceError mentioning the helper's message", err)
	}
}

func TestManagerStopCore(t *testing.T) {
	server := servicetest.Start(t, servicetest.Standard(1, 1))
	if err := newManager(t, dialerFor(server)).StopCore(context.Background()); err != nil {
		t.Fatalf("StopCore: %v", err)
	}

	unexpected := servicetest.Start(t, func(conn net.Conn, _ serviceipc.Command) {
		servicetest.Reply(conn, serviceipc.Pong{})
	})
	err := newManager(t, dialerFor(unexpected)).StopCore(context.Background())
	var protocolErr *serviceipc.ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
}
