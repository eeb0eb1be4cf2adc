// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package hub connects front-end messages to the proxy core and the
// helper service.
//
// A [Runtime] is created once per process and holds everything the
// handlers share: the connection pool, the configuration gate, the
// subscription manager, the process supervisor, the helper service
// manager, and the ids of the active traffic and log subscriptions.
//
// [Runtime.Dispatch] is the spawn boundary. Each core [frontend.Request]
// runs on its own goroutine, so slow calls never hold up fast ones;
// PUT requests additionally take the configuration gate and so run one
// at a time. Control messages (subscriptions, process start and stop,
// service queries) run in arrival order on a single control goroutine.
// Every handler answers with an event on the [frontend.Sink]; failures
// become success=false events and never stop the runtime.
//
// [Runtime.Shutdown] stops intake, fails queued mutations, waits for
// in-flight work, and releases connections and subscriptions.
package hub
