// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	fake := Fake(epoch)
	fake.Advance(750 * time.Millisecond)
	if got, want := fake.Now(), epoch.Add(750*time.Millisecond); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeAfter(t *testing.T) {
	t.Run("fires at deadline", func(t *testing.T) {
		fake := Fake(epoch)
		channel := fake.After(200 * time.Millisecond)

		fake.Advance(199 * time.Millisecond)
		select {
		case <-channel:
			t.Fatal("After fired before its deadline")
		default:
		}

		fake.Advance(time.Millisecond)
		select {
		case <-channel:
		default:
			t.Fatal("After did not fire at its deadline")
		}
		if fake.PendingCount() != 0 {
			t.Fatalf("PendingCount = %d after firing, want 0", fake.PendingCount())
		}
	})

	t.Run("non-positive fires immediately", func(t *testing.T) {
		fake := Fake(epoch)
		for _, d := range []time.Duration{0, -time.Second} {
			select {
			case <-fake.After(d):
			default:
				t.Fatalf("After(%v) did not fire immediately", d)
			}
		}
	})
}

func TestFakeTicker(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(30 * time.Second)

	fake.Advance(30 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after one interval")
	}

	// Two intervals at once: the second tick is dropped because the
	// channel holds one.
	fake.Advance(60 * time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire after two intervals")
	}
	select {
	case <-ticker.C:
		t.Fatal("ticker queued more than one tick")
	default:
	}

	ticker.Stop()
	fake.Advance(30 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("goroutine blocked on After was not released")
	}
}
