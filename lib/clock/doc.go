// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source for the transport layer.
//
// Anything that measures connection age, runs a periodic sweep, or
// waits between retry attempts takes a Clock instead of calling the
// time package. Production wiring uses Real(). Tests use Fake(), which
// only moves when Advance is called, so idle-timeout and backoff
// assertions are exact rather than sleep-based.
//
// A goroutine that is about to block on a fake timer registers a
// waiter first. Tests call WaitForTimers(n) before Advance so the
// advance never races the registration:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go client.SendCommand(ctx, serviceipc.Ping())
//	fake.WaitForTimers(1)
//	fake.Advance(100 * time.Millisecond)
package clock
