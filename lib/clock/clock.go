// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package used by the pool, the
// service client, and the sweep loop.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After delivers the current time on the returned channel once d
	// has elapsed. A non-positive d delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C. The channel has capacity 1 and
// drops ticks the consumer has not picked up, like time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends tick delivery. C is not closed.
func (t *Ticker) Stop() { t.stop() }
