// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package gate serializes requests that mutate the core's running
// configuration. The core applies a configuration reload in place, and
// two overlapping reloads can leave it with a mix of both. Holders of
// the single permit run one at a time; everyone else waits in arrival
// order.
//
// Waiting has no timeout. A mutation that hangs holds the permit until
// its connection fails.
package gate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("configuration gate closed")

// Gate is a single-permit mutual exclusion token.
type Gate struct {
	permit *semaphore.Weighted

	closeOnce sync.Once
	closed    chan struct{}
}

// New returns an open Gate.
func New() *Gate {
	return &Gate{
		permit: semaphore.NewWeighted(1),
		closed: make(chan struct{}),
	}
}

// Acquire waits for the permit. The returned release function gives
// it back and may be called more than once. Acquire fails with
// ErrClosed once the gate is closed, or with ctx's error if ctx ends
// first.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case <-g.closed:
		return nil, ErrClosed
	default:
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-g.closed:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	if err := g.permit.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrClosed
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.permit.Release(1) })
	}, nil
}

// Close makes pending and future Acquire calls fail with ErrClosed.
// A permit already held stays valid until released.
func (g *Gate) Close() {
	g.closeOnce.Do(func() { close(g.closed) })
}
