// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/stelliberty/hub/lib/config"
	"github.com/stelliberty/hub/lib/corepool"
	"github.com/stelliberty/hub/lib/endpoint"
	"github.com/stelliberty/hub/lib/frontend"
	"github.com/stelliberty/hub/lib/gate"
	"github.com/stelliberty/hub/lib/hub"
	"github.com/stelliberty/hub/lib/serviceipc"
	"github.com/stelliberty/hub/lib/subscription"
	"github.com/stelliberty/hub/lib/supervisor"
	"github.com/stelliberty/hub/lib/version"
)

// shutdownTimeout bounds draining in-flight work and stopping a
// directly launched core on exit.
const shutdownTimeout = 10 * time.Second

func serveCommand(ctx context.Context, args []string) error {
	var configPath string
	flagSet := commandFlags("serve", &configPath)
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)
	logger.Info("starting", "version", version.Info(),
		"core_endpoint", cfg.Core.Endpoint, "service_endpoint", cfg.Service.Endpoint)

	return serve(ctx, cfg, os.Stdin, os.Stdout, logger)
}

// serve runs the hub until input ends, ctx is cancelled, or a
// component fails.
func serve(ctx context.Context, cfg *config.Config, input io.Reader, output io.Writer, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coreDialer := endpoint.NewDialer(cfg.Core.Endpoint, config.Duration(cfg.Core.ConnectTimeout))
	pool, err := corepool.New(corepool.Config{
		Connector:     coreDialer,
		Capacity:      cfg.Core.PoolSize,
		IdleTimeout:   config.Duration(cfg.Core.IdleTimeout),
		SweepInterval: config.Duration(cfg.Core.SweepInterval),
		Logger:        logger.With("component", "pool"),
		Registerer:    registry,
	})
	if err != nil {
		return err
	}

	serviceClient, err := serviceipc.NewClient(serviceipc.ClientConfig{
		Connector:           endpoint.NewDialer(cfg.Service.Endpoint, 0),
		Timeout:             config.Duration(cfg.Service.Timeout),
		MaxRetries:          cfg.Service.MaxRetries,
		RunningCheckTimeout: config.Duration(cfg.Service.RunningCheckTimeout),
		Logger:              logger.With("component", "service"),
		Registerer:          registry,
	})
	if err != nil {
		return err
	}

	// The subscription and supervisor callbacks need the runtime,
	// which needs them; runtime is assigned before any message is
	// dispatched, so the callbacks never see it nil.
	var runtime *hub.Runtime
	subscriptions, err := subscription.New(subscription.Config{
		Dial: coreDialer.DialContext,
		OnClosed: func(id uint32, err error) {
			runtime.SubscriptionClosed(id, err)
		},
		Logger: logger.With("component", "subscription"),
	})
	if err != nil {
		return err
	}
	processes := supervisor.New(supervisor.Config{
		GracePeriod: config.Duration(cfg.Core.StopGracePeriod),
		OnStop:      func() { runtime.ReleaseCoreResources() },
		Logger:      logger.With("component", "supervisor"),
	})

	runtime, err = hub.New(hub.Config{
		Pool:          pool,
		Gate:          gate.New(),
		Sink:          frontend.NewWriter(output),
		Subscriptions: subscriptions,
		Supervisor:    processes,
		Service:       serviceipc.NewManager(serviceClient, logger.With("component", "service")),
		Logger:        logger.With("component", "hub"),
	})
	if err != nil {
		return err
	}

	// Handlers run on a context that outlives the read loop, so work
	// already dispatched when input ends can finish during Shutdown.
	dispatchCtx := context.WithoutCancel(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	runCtx, stopRun := context.WithCancel(groupCtx)
	defer stopRun()

	group.Go(func() error {
		pool.Run(runCtx)
		return nil
	})
	if cfg.Metrics.Listen != "" {
		group.Go(func() error {
			return serveMetrics(runCtx, cfg.Metrics.Listen, registry, logger)
		})
	}
	group.Go(func() error {
		// The front end closing its end of the pipe ends the session.
		defer stopRun()
		return readMessages(runCtx, dispatchCtx, frontend.NewReader(input), runtime, logger)
	})

	groupErr := group.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if groupErr != nil {
		errs = append(errs, groupErr)
	}
	if err := runtime.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down hub: %w", err))
	}
	if processes.Running() {
		if err := processes.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stopping core: %w", err))
		}
	}
	logger.Info("stopped")
	return errors.Join(errs...)
}

// readMessages dispatches front-end messages with dispatchCtx until
// input ends or ctx is done. Reading happens on its own goroutine
// because a blocked read on stdin cannot be interrupted.
func readMessages(ctx, dispatchCtx context.Context, reader *frontend.Reader, runtime *hub.Runtime, logger *slog.Logger) error {
	type result struct {
		message frontend.Message
		err     error
	}
	results := make(chan result)
	go func() {
		for {
			message, err := reader.Next()
			select {
			case results <- result{message, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !isDecodeError(err) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-results:
			switch {
			case next.err == nil:
				runtime.Dispatch(dispatchCtx, next.message)
			case errors.Is(next.err, io.EOF):
				logger.Info("front end closed input")
				return nil
			case isDecodeError(next.err):
				logger.Warn("skipping malformed front-end message", "error", next.err)
			default:
				return next.err
			}
		}
	}
}

func isDecodeError(err error) bool {
	var decodeErr *frontend.DecodeError
	return errors.As(err, &decodeErr)
}

func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("serving metrics", "address", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics on %s: %w", address, err)
	}
	return nil
}
