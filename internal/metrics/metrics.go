package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound webhook deliveries by outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_webhooks_total",
			Help: "Inbound webhook deliveries by result.",
		},
		[]string{"result"}, // processed | duplicate | malformed | unauthorized | error
	)

	// Activities classified as trades, by direction.
	TradesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_trades_classified_total",
			Help: "Activities classified as swap-like trades.",
		},
		[]string{"direction"},
	)

	// Dedup decisions by scope.
	DedupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_dedup_total",
			Help: "Gatekeeper decisions by scope and result.",
		},
		[]string{"scope", "result"}, // scope = event | tx | alert; result = new | duplicate | error
	)

	// Subscription cache access.
	SubscriptionCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_subscription_cache_total",
			Help: "Subscription cache hits, misses and errors.",
		},
		[]string{"result"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_jobs_enqueued_total",
			Help: "Copy-trade jobs enqueued by direction and result.",
		},
		[]string{"direction", "result"},
	)

	// Terminal job outcomes.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_jobs_processed_total",
			Help: "Copy-trade job attempts by direction and outcome.",
		},
		[]string{"direction", "outcome"}, // completed | retry | failed
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copytrader_job_duration_seconds",
			Help:    "Time spent handling one job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms → ~80s
		},
		[]string{"direction"},
	)

	// Outbound calls to the swap, balance and notification services.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_upstream_requests_total",
			Help: "Outbound API requests by service and result.",
		},
		[]string{"service", "result"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copytrader_upstream_request_duration_seconds",
			Help:    "Duration of outbound API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 17), // 1ms → ~65s
		},
		[]string{"service"},
	)

	// Background task lifecycle.
	BackgroundTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_background_tasks_total",
			Help: "Detached background tasks by name and result.",
		},
		[]string{"task", "result"}, // ok | error | panic
	)

	BackgroundInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copytrader_background_tasks_in_flight",
			Help: "Background tasks currently running.",
		},
	)

	// Tracks NATS messages processed by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages processed.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copytrader_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful subscription cache refresh (seconds since epoch).
	LastRefreshTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "copytrader_last_refresh_timestamp",
			Help: "Timestamp (unix seconds) of the last successful refresh by component.",
		},
		[]string{"component"},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncWebhook(result string) {
	WebhooksTotal.WithLabelValues(result).Inc()
}

func IncTrade(direction string) {
	TradesClassified.WithLabelValues(direction).Inc()
}

func IncDedup(scope, result string) {
	DedupTotal.WithLabelValues(scope, result).Inc()
}

func IncSubscriptionCache(result string) {
	SubscriptionCache.WithLabelValues(result).Inc()
}

func IncEnqueued(direction, result string) {
	JobsEnqueued.WithLabelValues(direction, result).Inc()
}

func IncJob(direction, outcome string) {
	JobsProcessed.WithLabelValues(direction, outcome).Inc()
}

func IncUpstream(service, result string) {
	UpstreamRequests.WithLabelValues(service, result).Inc()
}

func IncBackgroundTask(task, result string) {
	BackgroundTasks.WithLabelValues(task, result).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetLastRefresh(component string, t time.Time) {
	LastRefreshTimestamp.WithLabelValues(component).Set(float64(t.Unix()))
}
