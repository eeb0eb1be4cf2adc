// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

// Package frontend defines the records exchanged with the user
// interface process and a newline-delimited JSON codec for them.
//
// Each line is one object with a "type" tag and a "data" payload:
//
//	{"type":"request","data":{"request_id":7,"method":"GET","path":"/proxies"}}
//	{"type":"response","data":{"request_id":7,"status_code":200,"body":"{...}","success":true}}
//
// Inbound messages implement [Message]; outbound records implement
// [Event]. A [Writer] may be shared by any number of goroutines.
package frontend
