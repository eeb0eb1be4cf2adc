// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/stelliberty/hub/lib/config"
)

// envDebug forces debug logging regardless of configuration.
const envDebug = "STELLIBERTY_DEBUG"

// newLogger builds the process logger on stderr. With format "auto",
// a terminal gets slog.TextHandler and anything else gets
// slog.JSONHandler so the front end can ingest the records.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv(envDebug) != "" {
		level = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, cfg.Format, term.IsTerminal(int(os.Stderr.Fd())), level))
}

func newHandler(w io.Writer, format string, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	switch {
	case format == "text", format == "auto" && terminal:
		return slog.NewTextHandler(w, options)
	default:
		return slog.NewJSONHandler(w, options)
	}
}
