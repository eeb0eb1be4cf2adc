// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package coreproto speaks the proxy core's control protocol: HTTP/1.1
// request and response framing written and parsed directly on a local
// stream.
//
// Only what the core's control API needs is implemented. A request is
// a request line, a Host header, and an optional JSON body with
// Content-Type and Content-Length. A response is a status line,
// headers, and a body framed by Content-Length, by chunked transfer
// encoding, or absent. Everything else (redirects, content coding,
// multiple requests in flight on one stream) is out of scope.
//
// The parser reads through a *bufio.Reader owned by the pooled
// connection, so bytes buffered past the end of one response are still
// there for the next request on the same stream.
//
// There is no read deadline on this path. A core that stops answering
// mid-response blocks the caller until the stream is closed.
package coreproto
