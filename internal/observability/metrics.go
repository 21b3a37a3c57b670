package observability

import "github.com/prometheus/client_golang/prometheus"

// Ingestion metrics. Label values are bounded: outcome and event kind come
// from fixed sets, job type from the queue package constants.
var (
	// IngestOutcomes counts webhook deliveries by terminal outcome
	// (processed, ignored, rejected, parse_failed, error).
	IngestOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wamcp_ingest_deliveries_total",
			Help: "Webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	// NormalizedEvents counts canonical events by kind (message, status).
	NormalizedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wamcp_ingest_events_total",
			Help: "Canonical events produced by normalization.",
		},
		[]string{"kind"},
	)

	// MessagesInserted counts messages stored for the first time.
	MessagesInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wamcp_ingest_messages_inserted_total",
			Help: "Messages newly inserted.",
		},
	)

	// SubmitFailures counts jobs the queue backend refused after commit.
	SubmitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wamcp_ingest_submit_failures_total",
			Help: "Post-commit job submissions that failed.",
		},
		[]string{"job_type"},
	)

	// IngestDuration observes the time spent inside the ingest transaction.
	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wamcp_ingest_duration_seconds",
			Help:    "Duration of webhook ingestion in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(IngestOutcomes, NormalizedEvents, MessagesInserted, SubmitFailures, IngestDuration)
}
