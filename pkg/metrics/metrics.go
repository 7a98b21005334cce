package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = false

	// Transcript metrics
	SegmentsIngested *prometheus.CounterVec
	EvaluationTime   prometheus.Histogram
	EvaluationErrors prometheus.Counter

	// Coverage metrics
	ItemsCovered prometheus.Counter

	// Prompt metrics
	PromptsGenerated    *prometheus.CounterVec
	PromptsAcknowledged prometheus.Counter

	// Session metrics
	ActiveCalls   prometheus.Gauge
	CallsStarted  prometheus.Counter
	CallsEnded    *prometheus.CounterVec
	SnapshotReads prometheus.Counter

	// Delivery metrics
	WSClientsConnected prometheus.Gauge
	AMQPPublished      *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		SegmentsIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachcall_segments_ingested_total",
				Help: "Total number of transcript segments ingested",
			},
			[]string{"speaker"},
		)

		EvaluationTime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "coachcall_evaluation_duration_seconds",
				Help:    "Duration of coverage evaluation per transcript append",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
			},
		)

		EvaluationErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachcall_evaluation_errors_total",
				Help: "Total number of isolated per-item evaluation failures",
			},
		)

		ItemsCovered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachcall_items_covered_total",
				Help: "Total number of checklist items latched as covered",
			},
		)

		PromptsGenerated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachcall_prompts_generated_total",
				Help: "Total number of coaching prompts generated",
			},
			[]string{"trigger"},
		)

		PromptsAcknowledged = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachcall_prompts_acknowledged_total",
				Help: "Total number of coaching prompts acknowledged",
			},
		)

		ActiveCalls = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachcall_active_calls",
				Help: "Number of live call sessions",
			},
		)

		CallsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachcall_calls_started_total",
				Help: "Total number of call sessions started",
			},
		)

		CallsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachcall_calls_ended_total",
				Help: "Total number of call sessions ended",
			},
			[]string{"status"},
		)

		SnapshotReads = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coachcall_snapshot_reads_total",
				Help: "Total number of call state snapshot reads",
			},
		)

		WSClientsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coachcall_websocket_clients",
				Help: "Number of connected websocket coach panels",
			},
		)

		AMQPPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachcall_amqp_published_total",
				Help: "Total number of coaching events published to AMQP",
			},
			[]string{"event_type", "status"},
		)

		registry.MustRegister(
			SegmentsIngested,
			EvaluationTime,
			EvaluationErrors,
			ItemsCovered,
			PromptsGenerated,
			PromptsAcknowledged,
			ActiveCalls,
			CallsStarted,
			CallsEnded,
			SnapshotReads,
			WSClientsConnected,
			AMQPPublished,
		)

		metricsEnabled = true
		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the Prometheus registry, or nil when metrics are not
// initialized
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether metrics collection is active
func IsEnabled() bool {
	return metricsEnabled
}

// Handler returns an HTTP handler serving the registry
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	})
}

// RecordSegment records an ingested transcript segment
func RecordSegment(speaker string) {
	if metricsEnabled {
		SegmentsIngested.WithLabelValues(speaker).Inc()
	}
}

// ObserveEvaluation records evaluation duration with a timer function
func ObserveEvaluation() func() {
	if !metricsEnabled {
		return func() {}
	}

	start := time.Now()
	return func() {
		EvaluationTime.Observe(time.Since(start).Seconds())
	}
}

// RecordEvaluationError records an isolated per-item evaluation failure
func RecordEvaluationError() {
	if metricsEnabled {
		EvaluationErrors.Inc()
	}
}

// RecordItemCovered records a checklist item latching to covered
func RecordItemCovered() {
	if metricsEnabled {
		ItemsCovered.Inc()
	}
}

// RecordPromptGenerated records a generated prompt by trigger kind
func RecordPromptGenerated(trigger string) {
	if metricsEnabled {
		PromptsGenerated.WithLabelValues(trigger).Inc()
	}
}

// RecordPromptAcknowledged records an acknowledged prompt
func RecordPromptAcknowledged() {
	if metricsEnabled {
		PromptsAcknowledged.Inc()
	}
}

// RecordCallStarted records a new call session
func RecordCallStarted() {
	if metricsEnabled {
		CallsStarted.Inc()
		ActiveCalls.Inc()
	}
}

// RecordCallEnded records a call leaving the live state
func RecordCallEnded(status string) {
	if metricsEnabled {
		CallsEnded.WithLabelValues(status).Inc()
		ActiveCalls.Dec()
	}
}

// RecordSnapshotRead records a snapshot fetch
func RecordSnapshotRead() {
	if metricsEnabled {
		SnapshotReads.Inc()
	}
}

// SetWSClients sets the connected websocket client count
func SetWSClients(count int) {
	if metricsEnabled {
		WSClientsConnected.Set(float64(count))
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(eventType, status string) {
	if metricsEnabled {
		AMQPPublished.WithLabelValues(eventType, status).Inc()
	}
}
