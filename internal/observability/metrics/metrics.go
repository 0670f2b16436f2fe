// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_hud"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted      *prometheus.CounterVec
	SessionsConnected    prometheus.Counter
	SessionsActive       prometheus.Gauge
	SessionsFailed       *prometheus.CounterVec
	SessionsEnded        *prometheus.CounterVec
	SessionDuration      prometheus.Histogram
	StartCallsSuppressed prometheus.Counter

	// Credential metrics
	CredentialFetchLatency prometheus.Histogram
	CredentialsIssued      *prometheus.CounterVec

	// Provider metrics
	ProviderMessages *prometheus.CounterVec

	// HUD metrics
	HUDConnectionsActive    prometheus.Gauge
	TriggersRaised          prometheus.Counter
	TriggersConsumed        *prometheus.CounterVec
	RouteTeardowns          prometheus.Counter
	PresentationTransitions *prometheus.CounterVec

	// Lead metrics
	LeadsSubmitted *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of voice sessions started",
		}, []string{"route"}),
		SessionsConnected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_connected_total",
			Help:      "Total number of voice sessions that reached connected",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connecting or connected voice sessions",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of voice sessions that failed",
		}, []string{"kind"}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of voice sessions torn down",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of voice sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		StartCallsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_calls_suppressed_total",
			Help:      "Start requests ignored because a session was already in flight",
		}),

		// Credential metrics
		CredentialFetchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_fetch_latency_seconds",
			Help:      "Latency of signed URL fetches in seconds",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CredentialsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Signed URL requests served by the credential endpoint",
		}, []string{"result"}),

		// Provider metrics
		ProviderMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_messages_total",
			Help:      "Transcript messages received from the voice provider",
		}, []string{"source"}),

		// HUD metrics
		HUDConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hud_connections_active",
			Help:      "Number of open HUD WebSocket connections",
		}),
		TriggersRaised: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_triggers_raised_total",
			Help:      "Total number of cross-page call trigger raises",
		}),
		TriggersConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_triggers_consumed_total",
			Help:      "Total number of call triggers consumed by a widget",
		}, []string{"outcome"}),
		RouteTeardowns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_teardowns_total",
			Help:      "Sessions ended because the visitor navigated away",
		}),
		PresentationTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presentation_transitions_total",
			Help:      "Widget presentation state transitions",
		}, []string{"from", "to"}),

		// Lead metrics
		LeadsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_submitted_total",
			Help:      "Lead and quote submissions forwarded to the CRM",
		}, []string{"kind", "result"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC calls handled",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a session entering connecting.
func (m *Metrics) RecordSessionStart(route string) {
	m.SessionsStarted.WithLabelValues(route).Inc()
	m.SessionsActive.Inc()
}

// RecordSessionConnected records a session reaching connected.
func (m *Metrics) RecordSessionConnected() {
	m.SessionsConnected.Inc()
}

// RecordSessionFailed records a failed session. kind is the error kind.
func (m *Metrics) RecordSessionFailed(kind string) {
	m.SessionsFailed.WithLabelValues(kind).Inc()
	m.SessionsActive.Dec()
}

// RecordSessionRejected records a start refused before any session existed.
func (m *Metrics) RecordSessionRejected(kind string) {
	m.SessionsFailed.WithLabelValues(kind).Inc()
}

// RecordSessionEnd records a session torn down after it was started.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStartSuppressed records a start request absorbed by the re-entrancy guard.
func (m *Metrics) RecordStartSuppressed() {
	m.StartCallsSuppressed.Inc()
}

// RecordCredentialFetch records the latency of a signed URL fetch.
func (m *Metrics) RecordCredentialFetch(latencySeconds float64) {
	m.CredentialFetchLatency.Observe(latencySeconds)
}

// RecordCredentialIssued records a credential endpoint answer.
func (m *Metrics) RecordCredentialIssued(result string) {
	m.CredentialsIssued.WithLabelValues(result).Inc()
}

// RecordProviderMessage records a transcript message from the provider.
func (m *Metrics) RecordProviderMessage(source string) {
	m.ProviderMessages.WithLabelValues(source).Inc()
}

// RecordHUDConnection tracks HUD WebSocket connections opening and closing.
func (m *Metrics) RecordHUDConnection(open bool) {
	if open {
		m.HUDConnectionsActive.Inc()
	} else {
		m.HUDConnectionsActive.Dec()
	}
}

// RecordTriggerRaised records a call trigger raise.
func (m *Metrics) RecordTriggerRaised() {
	m.TriggersRaised.Inc()
}

// RecordTriggerConsumed records a widget consuming the call trigger.
func (m *Metrics) RecordTriggerConsumed(outcome string) {
	m.TriggersConsumed.WithLabelValues(outcome).Inc()
}

// RecordRouteTeardown records a session ended by navigation.
func (m *Metrics) RecordRouteTeardown() {
	m.RouteTeardowns.Inc()
}

// RecordPresentationTransition records a widget state change.
func (m *Metrics) RecordPresentationTransition(from, to string) {
	m.PresentationTransitions.WithLabelValues(from, to).Inc()
}

// RecordLead records a lead submission result.
func (m *Metrics) RecordLead(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LeadsSubmitted.WithLabelValues(kind, result).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCRequest records a handled gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
