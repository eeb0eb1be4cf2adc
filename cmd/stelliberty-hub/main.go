// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/stelliberty/hub/lib/config"
	"github.com/stelliberty/hub/lib/process"
	"github.com/stelliberty/hub/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return &process.ExitError{Code: 2}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := args[0], args[1:]
	switch command {
	case "serve":
		return serveCommand(ctx, rest)
	case "request":
		return requestCommand(ctx, rest)
	case "service":
		return serviceCommand(ctx, rest)
	case "version", "--version", "-v":
		version.Print("stelliberty-hub")
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unknown command %q", command)}
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `stelliberty-hub - control transport for the Stelliberty proxy core

USAGE
    stelliberty-hub <command> [flags]

COMMANDS
    serve      Serve front-end messages on stdin/stdout
    request    Send one request to the core's control API
    service    Query or control the helper service
    version    Show version

ENVIRONMENT
    STELLIBERTY_CONFIG   Path to the YAML configuration file
    STELLIBERTY_DEBUG    Enable debug logging
`)
}

// commandFlags returns a flag set with the --config flag every command
// accepts.
func commandFlags(name string, configPath *string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(configPath, "config", "", "configuration file (default: $"+config.EnvConfig+")")
	return flagSet
}

// parseFlags parses args, turning --help into a clean exit.
func parseFlags(flagSet *pflag.FlagSet, args []string) (help bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, &process.ExitError{Code: 2, Err: err}
	}
	return false, nil
}

// loadConfig loads and validates the configuration named by path or,
// when path is empty, by STELLIBERTY_CONFIG.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
