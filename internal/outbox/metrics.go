package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backup_restore",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Import events published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "backup_restore",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Import events that failed to publish.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "backup_restore",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_restore",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Import events moved to import_outbox_dlq, by topic.",
	}, []string{"topic"})

	dlqReplayedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_restore",
		Subsystem: "dlq",
		Name:      "events_replayed_total",
		Help:      "Dead-lettered events moved back into the outbox.",
	}, []string{"topic", "event_type"})

	dlqQuarantinedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "backup_restore",
		Subsystem: "dlq",
		Name:      "events_quarantined_total",
		Help:      "Dead-lettered events quarantined after exhausting their attempts.",
	}, []string{"topic", "event_type"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "backup_restore",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "Dead-lettered events waiting for a replay.",
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter, dlqReplayedCounter, dlqQuarantinedCounter, dlqBacklogGauge)
}
