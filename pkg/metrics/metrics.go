package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	CheckoutOutcomes *prometheus.CounterVec
	DebitedAmount    prometheus.Counter
	OrdersCreated    prometheus.Counter

	OutboxPublished prometheus.Counter
	OutboxFailed    prometheus.Counter

	CacheLookups *prometheus.CounterVec
}

// New registers every collector on reg. Tests pass a fresh prometheus.NewRegistry().
func New(service string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		DebitedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "debited_amount_total",
			Help:      "Sum of committed ledger debits.",
		}),
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "orders_created_total",
			Help:      "Orders committed by checkouts.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Outbox events relayed to Kafka.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "outbox_failed_total",
			Help:      "Outbox relay attempts that failed.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketplace",
			Subsystem: service,
			Name:      "catalog_cache_lookups_total",
			Help:      "Catalog cache lookups by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.CheckoutOutcomes,
		m.DebitedAmount,
		m.OrdersCreated,
		m.OutboxPublished,
		m.OutboxFailed,
		m.CacheLookups,
	)

	return m
}

func (m *Metrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.CheckoutOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CheckoutCommitted(amount float64, orders int) {
	if m == nil {
		return
	}
	m.DebitedAmount.Add(amount)
	m.OrdersCreated.Add(float64(orders))
}

func (m *Metrics) OutboxResult(published bool) {
	if m == nil {
		return
	}
	if published {
		m.OutboxPublished.Inc()
		return
	}
	m.OutboxFailed.Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
