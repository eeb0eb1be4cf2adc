// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/stelliberty/hub/lib/config"
	"github.com/stelliberty/hub/lib/coreproto"
	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/process"
)

func requestCommand(ctx context.Context, args []string) error {
	var configPath, body string
	flagSet := commandFlags("request", &configPath)
	flagSet.StringVar(&body, "body", "", "request body; JSON with comments allowed, or @FILE")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return &process.ExitError{Code: 2, Err: fmt.Errorf("usage: stelliberty-hub request [--body JSON] METHOD PATH")}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	var bodyPointer *string
	if flagSet.Changed("body") {
		normalized, err := normalizeBody(body)
		if err != nil {
			return err
		}
		bodyPointer = &normalized
	}

	method := strings.ToUpper(flagSet.Arg(0))
	dialer := endpoint.NewDialer(cfg.Core.Endpoint, config.Duration(cfg.Core.ConnectTimeout))
	response, err := sendRequest(ctx, dialer, method, flagSet.Arg(1), bodyPointer)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "HTTP %d\n", response.StatusCode)
	fmt.Println(response.Body)
	if response.StatusCode >= 400 {
		return &process.ExitError{Code: 1}
	}
	return nil
}

// normalizeBody turns a --body value into plain JSON. A leading @
// names a file to read.
func normalizeBody(value string) (string, error) {
	data := []byte(value)
	if path, ok := strings.CutPrefix(value, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return "", fmt.Errorf("reading request body: %w", err)
		}
	}
	normalized := jsonc.ToJSON(data)
	if !json.Valid(normalized) {
		return "", fmt.Errorf("request body is not valid JSON")
	}
	return string(normalized), nil
}

func sendRequest(ctx context.Context, connector endpoint.Connector, method, path string, body *string) (*coreproto.Response, error) {
	stream, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	response, err := coreproto.SendAndReceive(stream, bufio.NewReader(stream), coreproto.BuildRequest(method, path, body))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return response, nil
}
