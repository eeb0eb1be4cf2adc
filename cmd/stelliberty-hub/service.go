// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/stelliberty/hub/lib/config"
	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/process"
	"github.com/stelliberty/hub/lib/serviceipc"
)

func serviceCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return &process.ExitError{Code: 2, Err: errors.New("usage: stelliberty-hub service status|start|stop|ping|logs [flags]")}
	}
	action, args := args[0], args[1:]

	var configPath string
	var options serviceipc.StartOptions
	flagSet := commandFlags("service "+action, &configPath)
	if action == "start" {
		flagSet.StringVar(&options.CorePath, "core-path", "", "core executable")
		flagSet.StringVar(&options.ConfigPath, "config-path", "", "core configuration file")
		flagSet.StringVar(&options.DataDir, "data-dir", "", "core data directory")
		flagSet.StringVar(&options.ExternalController, "external-controller", "", "core external controller address")
	}
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	client, err := serviceipc.NewClient(serviceipc.ClientConfig{
		Connector:           endpoint.NewDialer(cfg.Service.Endpoint, 0),
		Timeout:             config.Duration(cfg.Service.Timeout),
		MaxRetries:          cfg.Service.MaxRetries,
		RunningCheckTimeout: config.Duration(cfg.Service.RunningCheckTimeout),
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	manager := serviceipc.NewManager(client, logger)

	switch action {
	case "status":
		status := manager.Status(ctx)
		fmt.Print(renderStatus(status, term.IsTerminal(int(os.Stdout.Fd()))))
		if status.State == serviceipc.StateUnknown {
			return &process.ExitError{Code: 3}
		}
		return nil

	case "start":
		if options.CorePath == "" {
			return &process.ExitError{Code: 2, Err: errors.New("--core-path is required")}
		}
		pid, err := manager.StartCore(ctx, options)
		if err != nil {
			return err
		}
		if pid != nil {
			fmt.Printf("core started (pid %d)\n", *pid)
		} else {
			fmt.Println("core started")
		}
		return nil

	case "stop":
		if err := manager.StopCore(ctx); err != nil {
			return err
		}
		fmt.Println("core stopped")
		return nil

	case "ping":
		start := time.Now()
		response, err := client.SendCommand(ctx, serviceipc.Ping{})
		if err != nil {
			return err
		}
		if _, ok := response.(serviceipc.Pong); !ok {
			return fmt.Errorf("unexpected answer to ping: %T", response)
		}
		fmt.Printf("pong in %s\n", time.Since(start).Round(time.Microsecond))
		return nil

	case "logs":
		err := manager.StreamLogs(ctx, func(line string) bool {
			fmt.Println(line)
			return true
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err

	default:
		return &process.ExitError{Code: 2, Err: fmt.Errorf("unknown service action %q", action)}
	}
}

var (
	statusLabelStyle = lipgloss.NewStyle().Bold(true).Width(8)
	statusStyles     = map[serviceipc.State]lipgloss.Style{
		serviceipc.StateRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		serviceipc.StateStopped: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		serviceipc.StateUnknown: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
)

// renderStatus formats status for the terminal, or as plain
// "key: value" lines when styled is false.
func renderStatus(status serviceipc.ServiceStatus, styled bool) string {
	rows := [][2]string{{"state", string(status.State)}}
	if status.State == serviceipc.StateRunning {
		rows = append(rows,
			[2]string{"pid", strconv.FormatUint(uint64(status.PID), 10)},
			[2]string{"uptime", (time.Duration(status.Uptime) * time.Second).String()},
		)
	}

	var output []byte
	for i, row := range rows {
		label, value := row[0]+":", row[1]
		if styled {
			label = statusLabelStyle.Render(label)
			if i == 0 {
				value = statusStyles[status.State].Render(value)
			}
		} else {
			label += " "
		}
		output = fmt.Appendf(output, "%s%s\n", label, value)
	}
	return string(output)
}
