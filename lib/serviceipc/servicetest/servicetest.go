// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package servicetest runs a scripted helper service on a Unix socket
// for tests of code that talks to it.
package servicetest

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stelliberty/hub/lib/serviceipc"
	"github.com/stelliberty/hub/lib/testutil"
)

// Handler serves one connection after its first command frame was
// read. The connection is closed when Handler returns.
type Handler func(conn net.Conn, command serviceipc.Command)

// Server is a fake helper service.
type Server struct {
	// Path is the socket the server listens on.
	Path string

	listener    net.Listener
	connections atomic.Int32
	wg          sync.WaitGroup
}

// Start listens on a fresh socket and serves every connection with
// handler until the test ends.
func Start(t testing.TB, handler Handler) *Server {
	t.Helper()

	path := testutil.SocketPath(t, "service.sock")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}

	server := &Server{Path: path, listener: listener}
	server.wg.Add(1)
	go server.serve(t, handler)
	t.Cleanup(server.Close)
	return server
}

func (s *Server) serve(t testing.TB, handler Handler) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.Errorf("accept: %v", err)
			}
			return
		}
		s.connections.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()

			payload, err := serviceipc.ReadFrame(conn, serviceipc.MaxResponseSize)
			if err != nil {
				return
			}
			command, err := serviceipc.DecodeCommand(payload)
			if err != nil {
				t.Errorf("decoding command: %v", err)
				return
			}
			handler(conn, command)
		}()
	}
}

// Connections returns the number of connections accepted so far.
func (s *Server) Connections() int { return int(s.connections.Load()) }

// Close stops accepting and waits for in-flight handlers.
func (s *Server) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// Reply writes response as one frame. Write errors are ignored: the
// client may have given up on the connection.
func Reply(conn net.Conn, response serviceipc.Response) {
	payload, err := serviceipc.EncodeResponse(response)
	if err != nil {
		panic(err)
	}
	serviceipc.WriteFrame(conn, payload)
}

// Standard answers every command the way a healthy helper with a
// running core does.
func Standard(pid uint32, uptime uint64) Handler {
	return func(conn net.Conn, command serviceipc.Command) {
		switch command.(type) {
		case serviceipc.Ping:
			Reply(conn, serviceipc.Pong{})
		case serviceipc.Heartbeat:
			Reply(conn, serviceipc.HeartbeatAck{})
		case serviceipc.GetStatus:
			Reply(conn, serviceipc.Status{Running: true, PID: &pid, Uptime: uptime})
		case serviceipc.StartClash:
			Reply(conn, serviceipc.Success{Message: "core started"})
		case serviceipc.StopClash:
			Reply(conn, serviceipc.Success{Message: "core stopped"})
		case serviceipc.StreamLogs:
			Reply(conn, serviceipc.Success{})
		}
	}
}
