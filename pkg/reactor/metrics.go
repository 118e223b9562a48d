// SPDX-FileCopyrightText: 2026 dtn7 contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dispatch kinds, used as metric labels.
const (
	dispatchRead  = "read"
	dispatchFlush = "flush"
	dispatchTask  = "task"
)

// Failure kinds, used as metric labels and for log levels.
const (
	failureEndOfStream = "end_of_stream"
	failureBuffer      = "insufficient_buffer"
	failureClosed      = "closed"
	failureIO          = "io"
	failureInterest    = "interest"
)

// metrics of a single Reactor, kept in the Reactor's own registry.
type metrics struct {
	registry *prometheus.Registry

	channels   prometheus.Gauge
	dispatches *prometheus.CounterVec
	failures   *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),

		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sockpipe",
			Subsystem: "reactor",
			Name:      "channels",
			Help:      "Number of currently registered channels.",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpipe",
			Subsystem: "reactor",
			Name:      "dispatches_total",
			Help:      "Number of dispatched readiness events and tasks.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sockpipe",
			Subsystem: "reactor",
			Name:      "failures_total",
			Help:      "Number of channels closed by a failure.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(m.channels, m.dispatches, m.failures)
	return m
}
