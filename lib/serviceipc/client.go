// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package serviceipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stelliberty/hub/lib/clock"
	"github.com/stelliberty/hub/lib/endpoint"
)

// Defaults for ClientConfig fields left at zero.
const (
	DefaultTimeout             = 5 * time.Second
	DefaultMaxRetries          = 3
	DefaultRunningCheckTimeout = 500 * time.Millisecond

	// retryBackoffStep is multiplied by the attempt number to get the
	// wait before that attempt.
	retryBackoffStep = 100 * time.Millisecond
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Connector dials the helper's endpoint. Required.
	Connector endpoint.Connector

	// Timeout bounds each attempt: connect, write, and both reads.
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after a
	// transport failure or timeout. Zero means DefaultMaxRetries; a
	// negative value disables retries.
	MaxRetries int

	// RunningCheckTimeout bounds IsServiceRunning.
	RunningCheckTimeout time.Duration

	// Clock times the backoff between attempts. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Registerer receives the client's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Client sends commands to the helper service. Each call opens its own
// connection. Safe for concurrent use.
type Client struct {
	connector           endpoint.Connector
	timeout             time.Duration
	maxRetries          int
	runningCheckTimeout time.Duration
	clock               clock.Clock
	logger              *slog.Logger
	attempts            *prometheus.CounterVec
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Connector == nil {
		return nil, errors.New("serviceipc: Connector is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = DefaultMaxRetries
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.RunningCheckTimeout <= 0 {
		config.RunningCheckTimeout = DefaultRunningCheckTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stelliberty_service_attempts_total",
		Help: "Helper service call attempts by command and outcome",
	}, []string{"command", "outcome"})
	if config.Registerer != nil {
		if err := config.Registerer.Register(attempts); err != nil {
			return nil, fmt.Errorf("registering service client metrics: %w", err)
		}
	}

	return &Client{
		connector:           config.Connector,
		timeout:             config.Timeout,
		maxRetries:          config.MaxRetries,
		runningCheckTimeout: config.RunningCheckTimeout,
		clock:               config.Clock,
		logger:              config.Logger,
		attempts:            attempts,
	}, nil
}

// SendCommand sends command and returns the helper's response.
//
// An Error response is returned as a *ServiceError. Transport failures
// and timeouts are retried up to MaxRetries times, waiting 100ms times
// the attempt number before each retry. Any other failure, including a
// response over MaxResponseSize or one that does not decode, is
// returned at once.
func (c *Client) SendCommand(ctx context.Context, command Command) (Response, error) {
	name := command.commandType()
	payload, err := EncodeCommand(command)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * retryBackoffStep
			c.logger.Debug("retrying service command",
				"command", name,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(backoff):
			}
		}

		response, err := c.attempt(ctx, payload)
		if err == nil {
			if failure, ok := response.(ErrorResponse); ok {
				c.attempts.WithLabelValues(name, "service_error").Inc()
				return nil, &ServiceError{Code: failure.Code, Message: failure.Message}
			}
			c.attempts.WithLabelValues(name, "ok").Inc()
			return response, nil
		}

		c.attempts.WithLabelValues(name, outcomeLabel(err)).Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, fmt.Errorf("sending %s: %w", name, err)
		}
		c.logger.Debug("service command attempt failed",
			"command", name,
			"attempt", attempt+1,
			"attempts", c.maxRetries+1,
			"error", err,
		)
		lastErr = err
	}
	return nil, fmt.Errorf("sending %s after %d attempts: %w", name, c.maxRetries+1, lastErr)
}

// attempt runs one connect/write/read exchange bounded by c.timeout.
func (c *Client) attempt(ctx context.Context, payload []byte) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.connector.Connect(ctx)
	if err != nil {
		return nil, transportError(ctx, "connecting", err)
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	if err := WriteFrame(stream, payload); err != nil {
		return nil, transportError(ctx, "writing command", err)
	}
	body, err := ReadFrame(stream, MaxResponseSize)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, err
		}
		return nil, transportError(ctx, "reading response", err)
	}
	return DecodeResponse(body)
}

// IsServiceRunning sends one Heartbeat with a short timeout and no
// retries. Any failure counts as not running.
func (c *Client) IsServiceRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.runningCheckTimeout)
	defer cancel()

	payload, err := EncodeCommand(Heartbeat{})
	if err != nil {
		return false
	}
	response, err := c.attempt(ctx, payload)
	if err != nil {
		c.logger.Debug("helper service heartbeat failed", "error", err)
		return false
	}
	_, ok := response.(HeartbeatAck)
	return ok
}

// StreamLogs subscribes to the helper's log output and calls callback
// with each line until callback returns false, the helper closes the
// stream, or ctx is done.
//
// The subscription handshake is bounded by the client timeout; the
// stream itself is not. A helper that closes the stream between frames
// ends it normally and StreamLogs returns nil. Cancelling ctx closes
// the connection and StreamLogs returns ctx's error.
func (c *Client) StreamLogs(ctx context.Context, callback func(line string) bool) error {
	payload, err := EncodeCommand(StreamLogs{})
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.timeout)
	stream, err := c.connector.Connect(connectCtx)
	timedOut := connectCtx.Err() == context.DeadlineExceeded
	cancel()
	if err != nil {
		if timedOut {
			return fmt.Errorf("connecting for log stream: %w", ErrTimeout)
		}
		return &TransportError{Op: "connecting for log stream", Err: err}
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	stream.SetDeadline(time.Now().Add(c.timeout))
	if err := WriteFrame(stream, payload); err != nil {
		return c.streamError(ctx, "writing log subscription", err)
	}
	body, err := ReadFrame(stream, MaxResponseSize)
	if err != nil {
		return c.streamError(ctx, "reading log subscription acknowledgement", err)
	}
	acknowledgement, err := DecodeResponse(body)
	if err != nil {
		return err
	}
	switch response := acknowledgement.(type) {
	case Success:
	case ErrorResponse:
		return &ServiceError{Code: response.Code, Message: response.Message}
	default:
		return protocolError(nil, "log subscription acknowledged with %s", response.responseType())
	}
	stream.SetDeadline(time.Time{})
	c.logger.Debug("log stream established")

	for {
		body, err := ReadFrame(stream, MaxLogLineSize)
		if errors.Is(err, io.EOF) {
			c.logger.Debug("helper closed log stream")
			return nil
		}
		if err != nil {
			return c.streamError(ctx, "reading log frame", err)
		}

		frame, err := DecodeResponse(body)
		if err != nil {
			return err
		}
		switch response := frame.(type) {
		case LogStream:
			if !callback(response.Line) {
				return nil
			}
		case ErrorResponse:
			return &ServiceError{Code: response.Code, Message: response.Message}
		default:
			return protocolError(nil, "unexpected %s frame on log stream", response.responseType())
		}
	}
}

func (c *Client) streamError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrResponseTooLarge) {
		return err
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &TransportError{Op: op, Err: err}
}

// transportError classifies a failed connect, write, or read within an
// attempt whose context is ctx.
func transportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &TransportError{Op: op, Err: err}
}

func outcomeLabel(err error) string {
	var protocolErr *ProtocolError
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrResponseTooLarge), errors.As(err, &protocolErr):
		return "protocol_error"
	}
	return "transport_error"
}
