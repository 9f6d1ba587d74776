// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ballotsSubmitted *prometheus.CounterVec
	tallyCASRetries  prometheus.Counter
	tallyRecounts    prometheus.Counter
	messagesSent     *prometheus.CounterVec
	subscriptions    prometheus.Gauge
	realtimeWarnings *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers all collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ballotsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpuvote_ballots_submitted_total",
			Help: "Ballot submissions by outcome",
		}, []string{"outcome"}),
		tallyCASRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "kpuvote_tally_cas_retries_total",
			Help: "Tally compare-and-swap attempts lost to a concurrent writer",
		}),
		tallyRecounts: factory.NewCounter(prometheus.CounterOpts{
			Name: "kpuvote_tally_recounts_total",
			Help: "Tally recounts written",
		}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpuvote_chat_messages_sent_total",
			Help: "Chat messages stored by kind",
		}, []string{"kind"}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kpuvote_realtime_subscriptions",
			Help: "Open chat room subscriptions",
		}),
		realtimeWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpuvote_realtime_warnings_total",
			Help: "Connectivity warnings by subscription status",
		}, []string{"status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kpuvote_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kpuvote_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) BallotSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.ballotsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TallyCASRetry() {
	if m == nil {
		return
	}
	m.tallyCASRetries.Inc()
}

func (m *Metrics) TallyRecount() {
	if m == nil {
		return
	}
	m.tallyRecounts.Inc()
}

func (m *Metrics) MessageSent(kind string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *Metrics) RealtimeWarning(status string) {
	if m == nil {
		return
	}
	m.realtimeWarnings.WithLabelValues(status).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
