// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package coreproto

import (
	"bytes"
	"strconv"
)

// Methods understood by the core's control API.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// BuildRequest renders a request. A nil body produces a request with
// no entity headers; a non-nil body, even empty, is sent as JSON with
// its byte length.
func BuildRequest(method, path string, body *string) []byte {
	var buffer bytes.Buffer
	buffer.WriteString(method)
	buffer.WriteByte(' ')
	buffer.WriteString(path)
	buffer.WriteString(" HTTP/1.1\r\nHost: localhost\r\n")

	if body == nil {
		buffer.WriteString("\r\n")
		return buffer.Bytes()
	}

	buffer.WriteString("Content-Type: application/json\r\n")
	buffer.WriteString("Content-Length: ")
	buffer.WriteString(strconv.Itoa(len(*body)))
	buffer.WriteString("\r\n\r\n")
	buffer.WriteString(*body)
	return buffer.Bytes()
}
