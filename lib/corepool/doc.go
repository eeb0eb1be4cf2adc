// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package corepool keeps idle connections to the proxy core's control
// endpoint for reuse.
//
// The pool is FIFO: Release appends to the back and Acquire takes from
// the front, so the oldest idle connection is tried first and the
// newest ones survive longest. Every candidate is re-validated before
// it is handed out. A connection older than the idle timeout is
// closed because the core drops idle keep-alive connections on its
// side, and a connection whose peer has closed is detected with a
// non-consuming peek ([endpoint.Stream.TryPeek]). When nothing valid
// is idle, Acquire dials a fresh connection outside the lock.
//
// A [Conn] carries the buffered reader that parsed its previous
// response, so bytes already read from the stream stay with it across
// requests.
//
// [Pool.Run] evicts dead and expired connections periodically. A
// sweep that finds the pool busy skips its round rather than wait.
package corepool
