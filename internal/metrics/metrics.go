package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

// Metrics holds the service counters. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	Checkouts       *prometheus.CounterVec
	Payments        *prometheus.CounterVec
	StockMovements  *prometheus.CounterVec
	OutboxEvents    *prometheus.CounterVec
	OutboxLatency   *prometheus.HistogramVec
	SideEffectFails *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkouts by result",
		}, []string{"result"}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Recorded payments by result",
		}, []string{"result"}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Stock movements written by type",
		}, []string{"type"}),
		OutboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events processed by type and result",
		}, []string{"type", "result"}),
		OutboxLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_handle_seconds",
			Help:      "Outbox handler duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		SideEffectFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Best-effort side effects that failed",
		}, []string{"effect"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}

	registry.MustRegister(m.Checkouts, m.Payments, m.StockMovements, m.OutboxEvents,
		m.OutboxLatency, m.SideEffectFails, m.HTTPRequests)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CheckoutResult(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) PaymentResult(result string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(result).Inc()
}

func (m *Metrics) StockMovement(movementType string) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(movementType).Inc()
}

func (m *Metrics) OutboxEvent(eventType, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.OutboxEvents.WithLabelValues(eventType, result).Inc()
	m.OutboxLatency.WithLabelValues(eventType).Observe(took.Seconds())
}

func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.SideEffectFails.WithLabelValues(effect).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
}
