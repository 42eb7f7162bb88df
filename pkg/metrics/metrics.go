package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cosigner"

// Cosign outcomes
const (
	OutcomeSigned      = "signed"
	OutcomeNotFound    = "not_found"
	OutcomeNotActive   = "not_active"
	OutcomeBadRequest  = "bad_request"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	CosignRequests    *prometheus.CounterVec
	CollectionUpserts prometheus.Counter
	RequestDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewMetricsWithRegistry(reg, reg)
}

func NewMetricsWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		CosignRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cosign_requests_total",
			Help:      "Cosign requests by outcome.",
		}, []string{"outcome"}),
		CollectionUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_upserts_total",
			Help:      "Successful collection upserts.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: gatherer,
	}

	reg.MustRegister(m.CosignRequests, m.CollectionUpserts, m.RequestDuration)
	return m
}

func (m *Metrics) ObserveCosign(outcome string) {
	if m == nil {
		return
	}
	m.CosignRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpsert() {
	if m == nil {
		return
	}
	m.CollectionUpserts.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
