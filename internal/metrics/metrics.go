package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_records_processed_total",
			Help: "Card update records processed, by final status",
		},
		[]string{"status"},
	)

	BatchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_batches_processed_total",
			Help: "Batches processed, by kind",
		},
		[]string{"kind"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_batch_duration_seconds",
			Help:    "Wall-clock duration of a batch run",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeltasProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deltas_processed_total",
			Help: "Delta changes processed, by change type",
		},
		[]string{"change_type"},
	)

	ConflictsResolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_delta_conflicts_resolved_total",
			Help: "Delta conflicts resolved by last-writer-wins",
		},
	)

	NotificationsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_notifications_dispatched_total",
			Help: "Notifications handed to the dispatcher, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		RecordsProcessed,
		BatchesProcessed,
		BatchDuration,
		DeltasProcessed,
		ConflictsResolved,
		NotificationsDispatched,
	)
}
