// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package corepool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	idle         prometheus.Gauge
	acquisitions *prometheus.CounterVec
	evictions    *prometheus.CounterVec
	releases     *prometheus.CounterVec
	sweeps       *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stelliberty_core_pool_idle_connections",
			Help: "Idle connections to the core control endpoint",
		}),
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stelliberty_core_pool_acquisitions_total",
			Help: "Connection acquisitions by outcome (reused, dialed, dial_failed)",
		}, []string{"outcome"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stelliberty_core_pool_evictions_total",
			Help: "Idle connections closed by reason (expired, dead)",
		}, []string{"reason"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stelliberty_core_pool_releases_total",
			Help: "Connections handed back by outcome (pooled, dropped, discarded)",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stelliberty_core_pool_sweeps_total",
			Help: "Background sweep rounds by outcome (ran, skipped)",
		}, []string{"outcome"}),
	}
}

func (m *metrics) register(registerer prometheus.Registerer) error {
	var errs []error
	for _, collector := range []prometheus.Collector{m.idle, m.acquisitions, m.evictions, m.releases, m.sweeps} {
		if err := registerer.Register(collector); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
