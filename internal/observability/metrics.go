package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus collectors for ledger activity.
type Metrics struct {
	creditsDeducted   *prometheus.CounterVec
	creditsAdded      *prometheus.CounterVec
	insufficientTotal *prometheus.CounterVec
	conflictsTotal    prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewRegistry creates the registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		creditsDeducted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditmeter_credits_deducted_total",
				Help: "Credits consumed by AI operations",
			},
			[]string{"operation"},
		),
		creditsAdded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditmeter_credits_added_total",
				Help: "Credits added to balances",
			},
			[]string{"kind"},
		),
		insufficientTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditmeter_insufficient_credits_total",
				Help: "Deductions rejected for insufficient credits",
			},
			[]string{"operation"},
		),
		conflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "creditmeter_ledger_conflicts_total",
				Help: "Balance updates abandoned after exhausting optimistic retries",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditmeter_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditmeter_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordDeducted adds a consumed amount.
func (m *Metrics) RecordDeducted(operation string, amount float64) {
	m.creditsDeducted.WithLabelValues(operation).Add(amount)
}

// RecordAdded adds a credited amount.
func (m *Metrics) RecordAdded(kind string, amount float64) {
	m.creditsAdded.WithLabelValues(kind).Add(amount)
}

// RecordInsufficient counts a rejected deduction.
func (m *Metrics) RecordInsufficient(operation string) {
	m.insufficientTotal.WithLabelValues(operation).Inc()
}

// RecordConflict counts an abandoned update.
func (m *Metrics) RecordConflict() {
	m.conflictsTotal.Inc()
}

// RecordRequest counts a served request. route is the matched mux pattern.
func (m *Metrics) RecordRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
