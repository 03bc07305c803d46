package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics. Every recording helper tolerates a nil
// receiver so components can run without metrics in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Reconciler metrics
	CheckoutsTotal  *prometheus.CounterVec
	WebhookEvents   *prometheus.CounterVec
	WebhookDuration *prometheus.HistogramVec

	// Executor and circuit breaker metrics
	ExecutorAttempts       *prometheus.CounterVec
	ExecutorDuration       *prometheus.HistogramVec
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Transaction metrics
	TransactionAttempts *prometheus.CounterVec

	// Worker metrics
	OutboxPublished *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CheckoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkouts_total",
				Help:      "Checkout requests by payment type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Processor webhook events by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		WebhookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_duration_seconds",
				Help:      "Webhook reconciliation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"kind"},
		),
		ExecutorAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executor_attempts_total",
				Help:      "Attempts made by the resilient executor by downstream and outcome",
			},
			[]string{"downstream", "outcome"},
		),
		ExecutorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "executor_duration_seconds",
				Help:      "Wall time of a resilient call including retries",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"downstream"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		TransactionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transaction_attempts_total",
				Help:      "Database transaction attempts by outcome",
			},
			[]string{"outcome"},
		),
		OutboxPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_published_total",
				Help:      "Outbox entries handed to the event stream",
			},
			[]string{"event_type", "status"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CheckoutsTotal,
		m.WebhookEvents,
		m.WebhookDuration,
		m.ExecutorAttempts,
		m.ExecutorDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.TransactionAttempts,
		m.OutboxPublished,
	)

	return m
}

func (m *Metrics) ObserveCheckout(paymentType, outcome string) {
	if m == nil {
		return
	}
	m.CheckoutsTotal.WithLabelValues(paymentType, outcome).Inc()
}

func (m *Metrics) ObserveWebhook(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(kind, outcome).Inc()
	m.WebhookDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) ObserveAttempt(downstream, outcome string) {
	if m == nil {
		return
	}
	m.ExecutorAttempts.WithLabelValues(downstream, outcome).Inc()
}

func (m *Metrics) ObserveExecution(downstream string, took time.Duration) {
	if m == nil {
		return
	}
	m.ExecutorDuration.WithLabelValues(downstream).Observe(took.Seconds())
}

// SetBreakerState records state as 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}

func (m *Metrics) ObserveBreakerRequest(name, result string) {
	if m == nil {
		return
	}
	m.CircuitBreakerRequests.WithLabelValues(name, result).Inc()
}

func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.TransactionAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOutbox(eventType, status string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType, status).Inc()
}
