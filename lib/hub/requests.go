// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"fmt"

	"github.com/stelliberty/hub/lib/coreproto"
	"github.com/stelliberty/hub/lib/frontend"
	"github.com/stelliberty/hub/lib/netutil"
)

// handleRequest performs one call against the core and answers it.
func (r *Runtime) handleRequest(ctx context.Context, request frontend.Request) {
	response, err := r.roundTrip(ctx, request)
	if err != nil {
		r.send(frontend.Response{
			RequestID:    request.RequestID,
			Success:      false,
			ErrorMessage: frontend.ErrorText(err),
		})
		return
	}
	r.send(frontend.Response{
		RequestID:  request.RequestID,
		StatusCode: response.StatusCode,
		Body:       response.Body,
		Success:    true,
	})
}

func (r *Runtime) roundTrip(ctx context.Context, request frontend.Request) (*coreproto.Response, error) {
	var body *string
	switch request.Method {
	case coreproto.MethodGet, coreproto.MethodDelete:
	case coreproto.MethodPost, coreproto.MethodPut, coreproto.MethodPatch:
		body = request.Body
	default:
		return nil, fmt.Errorf("unsupported method %q", request.Method)
	}

	// Configuration writes are applied one at a time. The permit is
	// held across the whole exchange, including the connect.
	if request.Method == coreproto.MethodPut {
		release, err := r.gate.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for configuration gate: %w", err)
		}
		defer release()
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		if netutil.IsEndpointMissing(err) {
			r.notReady.Do(func() {
				r.logger.Debug("core endpoint not ready", "error", err)
			})
		} else {
			r.logger.Warn("connecting to core failed",
				"method", request.Method, "path", request.Path, "error", err)
		}
		return nil, fmt.Errorf("connecting to core: %w", err)
	}

	response, err := conn.Do(coreproto.BuildRequest(request.Method, request.Path, body))
	if err != nil {
		r.pool.Discard(conn)
		r.logger.Debug("core request failed",
			"request_id", request.RequestID, "method", request.Method, "path", request.Path, "error", err)
		return nil, fmt.Errorf("%s %s: %w", request.Method, request.Path, err)
	}
	if response.Close {
		r.pool.Discard(conn)
	} else {
		r.pool.Release(conn)
	}
	return response, nil
}
