// Package metrics exposes ledger activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics implements ports.Metrics on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Operations      *prometheus.CounterVec
	EventsRelayed   prometheus.Counter
	Units           *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers every collector on reg, plus the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_ledger_operations_total",
			Help: "Ledger operations by name and outcome (ok or error code)",
		}, []string{"operation", "outcome"}),
		EventsRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "carbon_ledger_events_published_total",
			Help: "Ledger events handed to the message broker",
		}),
		Units: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carbon_ledger_units_total",
			Help: "Whole units minted, burned or transferred per asset",
		}, []string{"asset", "kind"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carbon_ledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveOperation counts one service operation.
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m != nil {
		m.Operations.WithLabelValues(operation, outcome).Inc()
	}
}

// AddUnits adds a base-unit amount, converted to whole units.
func (m *Metrics) AddUnits(asset domain.Asset, kind string, amount decimal.Decimal) {
	if m != nil && amount.IsPositive() {
		m.Units.WithLabelValues(string(asset), kind).Add(domain.WholeUnits(amount))
	}
}

// EventsPublished counts events relayed to the broker.
func (m *Metrics) EventsPublished(n int) {
	if m != nil && n > 0 {
		m.EventsRelayed.Add(float64(n))
	}
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
