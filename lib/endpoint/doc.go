// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint opens duplex byte streams to the local endpoints of
// the proxy core and the helper service.
//
// On Unix the endpoint is a Unix domain socket; on Windows it is a
// named pipe. Both are exposed through [Stream], which adds one
// capability on top of net.Conn: [Stream.TryPeek], a non-blocking,
// non-consuming look at the receive side used to decide whether an
// idle pooled connection is still alive.
//
// [Dialer] implements [Connector] for a fixed path and also satisfies
// the DialContext signature expected by HTTP and WebSocket dialers, so
// the subscription manager can reuse it.
//
// Default paths carry a "_dev" suffix unless the binary is built with
// the release tag, so a development build never talks to an installed
// release instance.
package endpoint
