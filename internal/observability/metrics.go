package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported on /metrics. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	messages        *prometheus.CounterVec
	reconnects      prometheus.Counter
	listenerState   *prometheus.GaugeVec
	notifications   *prometheus.CounterVec
	events          *prometheus.CounterVec
}

// NewMetrics registers collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consultd_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_http_errors_total",
			Help: "Total number of HTTP error responses by error code",
		}, []string{"method", "path", "code"}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_mailbox_messages_total",
			Help: "Inbound mailbox messages by processing outcome",
		}, []string{"outcome"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "consultd_mailbox_reconnects_total",
			Help: "Total number of mailbox reconnect attempts",
		}),
		listenerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "consultd_mailbox_listener_state",
			Help: "Current mailbox listener state (1 for the active state)",
		}, []string{"state"}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_notifications_total",
			Help: "Outbound notifications by kind and result",
		}, []string{"kind", "result"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consultd_events_published_total",
			Help: "Domain events handed to external publishers",
		}, []string{"type", "result"}),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// RecordMessage counts one inbound message with its outcome.
func (m *Metrics) RecordMessage(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// RecordReconnect counts a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetListenerState marks state as the only active listener state.
func (m *Metrics) SetListenerState(state string) {
	if m == nil {
		return
	}
	m.listenerState.Reset()
	m.listenerState.WithLabelValues(state).Set(1)
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, result(err)).Inc()
}

// RecordEvent counts an event publication attempt.
func (m *Metrics) RecordEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
