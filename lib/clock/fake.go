// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{current: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// FakeClock is a Clock that advances only when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

// pendingTimer is a registered After or Ticker waiter.
type pendingTimer struct {
	deadline time.Time
	channel  chan time.Time

	// interval is zero for one-shot timers.
	interval time.Duration
	stopped  bool
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot waiter that fires when the clock reaches
// now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.pending = append(c.pending, &pendingTimer{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	c.changed.Broadcast()
	return channel
}

// NewTicker registers a periodic waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &pendingTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()

	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
		},
	}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is reached, earliest first. Tickers fire once per elapsed
// interval; ticks that find the channel full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)

	for {
		var due []*pendingTimer
		remaining := c.pending[:0:0]
		for _, timer := range c.pending {
			switch {
			case timer.stopped:
			case !timer.deadline.After(c.current):
				due = append(due, timer)
			default:
				remaining = append(remaining, timer)
			}
		}
		if len(due) == 0 {
			c.pending = remaining
			return
		}

		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, timer := range due {
			select {
			case timer.channel <- timer.deadline:
			default:
			}
			if timer.interval > 0 {
				timer.deadline = timer.deadline.Add(timer.interval)
				remaining = append(remaining, timer)
			}
		}
		c.pending = remaining
	}
}

// WaitForTimers blocks until at least n waiters are registered and
// not yet fired or stopped.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of active waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
