// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors seen on the local
// endpoints.
//
// [IsExpectedCloseError] recognizes the errors produced when a peer
// goes away (EOF, closed connection, broken pipe, reset); callers use
// it to log teardown quietly. [IsEndpointMissing] recognizes the
// "socket or pipe does not exist yet" condition that is normal while
// the proxy core is still starting.
package netutil
