// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test helpers shared across packages.
//
// [SocketDir] returns a short directory under /tmp for Unix socket
// files; t.TempDir() paths can exceed the 108-byte sun_path limit.
//
// [RequireReceive] and [RequireClosed] are the only places tests wait
// on the wall clock. They exist to turn a hang into a failure, never
// to order events; ordering is done with clock.FakeClock.
package testutil
