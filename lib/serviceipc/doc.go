// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package serviceipc talks to the privileged helper service that runs
// the proxy core with elevated rights.
//
// The wire protocol is a sequence of frames on a local stream. Each
// frame is a 4-byte little-endian payload length followed by that many
// bytes of JSON. A message is an adjacently tagged object:
//
//	{"type":"StartClash","data":{"core_path":"...","config_path":"...",...}}
//	{"type":"Pong"}
//
// A command call uses one fresh connection: one command frame out, one
// response frame back, then the connection is closed. Connections to
// the helper are never pooled. The one exception is [Client.StreamLogs],
// which keeps its connection open and receives a frame per log line
// after an initial Success acknowledgement.
//
// [Client.SendCommand] retries transport failures and timeouts with a
// linear backoff. An Error response from the helper is returned as a
// [*ServiceError] and is never retried. Responses larger than
// [MaxResponseSize] are rejected from their length prefix alone.
//
// [Manager] layers the service-mode operations used by the front end
// on top of the client: status, and starting and stopping the core.
package serviceipc
