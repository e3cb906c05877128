// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package perf

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsSubSystemWHIP = "whip"

type Metrics struct {
	registry *prometheus.Registry

	WHIPSessions     *prometheus.GaugeVec
	WHIPNegotiations *prometheus.CounterVec
	WHIPTeardowns    *prometheus.CounterVec
	WHIPAuthFailures prometheus.Counter
}

func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	var m Metrics

	if registry != nil {
		m.registry = registry
	} else {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: namespace,
		}))
		m.registry.MustRegister(collectors.NewGoCollector())
	}

	m.WHIPSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWHIP,
			Name:      "sessions",
			Help:      "Number of active ingest sessions",
		},
		[]string{"channelID"},
	)
	m.registry.MustRegister(m.WHIPSessions)

	m.WHIPNegotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWHIP,
			Name:      "negotiations_total",
			Help:      "Total number of ingest negotiations",
		},
		[]string{"status"},
	)
	m.registry.MustRegister(m.WHIPNegotiations)

	m.WHIPTeardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWHIP,
			Name:      "teardowns_total",
			Help:      "Total number of session teardowns by trigger",
		},
		[]string{"trigger"},
	)
	m.registry.MustRegister(m.WHIPTeardowns)

	m.WHIPAuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubSystemWHIP,
			Name:      "auth_failures_total",
			Help:      "Total number of failed ingest authentication attempts",
		},
	)
	m.registry.MustRegister(m.WHIPAuthFailures)

	return &m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncWHIPSessions(channelID uint64) {
	m.WHIPSessions.With(prometheus.Labels{"channelID": strconv.FormatUint(channelID, 10)}).Inc()
}

func (m *Metrics) DecWHIPSessions(channelID uint64) {
	m.WHIPSessions.With(prometheus.Labels{"channelID": strconv.FormatUint(channelID, 10)}).Dec()
}

func (m *Metrics) IncWHIPNegotiations(status string) {
	m.WHIPNegotiations.With(prometheus.Labels{"status": status}).Inc()
}

func (m *Metrics) IncWHIPTeardowns(trigger string) {
	m.WHIPTeardowns.With(prometheus.Labels{"trigger": trigger}).Inc()
}

func (m *Metrics) IncWHIPAuthFailures() {
	m.WHIPAuthFailures.Inc()
}
