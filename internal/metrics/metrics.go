package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the queue's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	submissions   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	networkOnline prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_submission_attempts_total",
			Help: "Payment submission attempts by outcome",
		}, []string{"outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transaction_transitions_total",
			Help: "Queued transaction status transitions",
		}, []string{"status"}),
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_sweeps_total",
			Help: "Queue sweeps by trigger and result",
		}, []string{"trigger", "result"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_sweep_duration_seconds",
			Help:    "Time spent processing a sweep",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"trigger"}),
		networkOnline: f.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_network_online",
			Help: "1 when the ledger network is reachable",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SubmissionAttempt(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

func (m *Metrics) Sweep(trigger, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(trigger, result).Inc()
	if result != "skipped" {
		m.sweepDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) NetworkOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.networkOnline.Set(1)
	} else {
		m.networkOnline.Set(0)
	}
}

func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
