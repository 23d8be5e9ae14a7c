// Package observability holds the Prometheus collectors for the import pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "backup_restore"

// Import modes and outcomes used as label values.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
	ModePlan  = "plan"

	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

var (
	importsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "imports_total",
		Help:      "Import attempts labeled by mode and outcome.",
	}, []string{"mode", "outcome"})

	importDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "import_duration_seconds",
		Help:      "Time spent applying a backup inside its transaction.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"mode"})

	entitiesImported = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "entities_imported_total",
		Help:      "Records created by committed imports, labeled by entity type.",
	}, []string{"entity"})

	entitiesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "entities_skipped_total",
		Help:      "Records skipped as duplicates by committed imports.",
	})

	unresolvedReferences = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "unresolved_references_total",
		Help:      "Child rows dropped because their exercise name matched nothing.",
	})

	jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "in_flight",
		Help:      "Asynchronous imports currently queued or running.",
	})

	jobsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "reaped_total",
		Help:      "Processing jobs failed by the stale job reaper.",
	})

	lastImportGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "importer",
		Name:      "last_import_committed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed import.",
	})
)

func init() {
	prometheus.MustRegister(importsTotal, importDuration, entitiesImported, entitiesSkipped, unresolvedReferences, jobsInFlight, jobsReaped, lastImportGauge)
}

// ImportCounts is the subset of a summary the metrics care about.
type ImportCounts struct {
	Sessions, Exercises, Templates, Scheduled int
	Skipped, Unresolved                       int
}

// RecordImportCommitted records the counters for a committed import.
func RecordImportCommitted(mode string, counts ImportCounts, elapsed time.Duration, at time.Time) {
	importsTotal.WithLabelValues(mode, OutcomeSuccess).Inc()
	importDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if mode == ModePlan {
		return
	}
	entitiesImported.WithLabelValues("sessions").Add(float64(counts.Sessions))
	entitiesImported.WithLabelValues("exercises").Add(float64(counts.Exercises))
	entitiesImported.WithLabelValues("templates").Add(float64(counts.Templates))
	entitiesImported.WithLabelValues("scheduled").Add(float64(counts.Scheduled))
	entitiesSkipped.Add(float64(counts.Skipped))
	unresolvedReferences.Add(float64(counts.Unresolved))
	if !at.IsZero() {
		lastImportGauge.Set(float64(at.Unix()))
	}
}

// RecordImportFailed counts an import whose transaction was rolled back.
func RecordImportFailed(mode string) {
	importsTotal.WithLabelValues(mode, OutcomeFailure).Inc()
}

// RecordImportRejected counts uploads refused before any work started.
func RecordImportRejected(mode string) {
	importsTotal.WithLabelValues(mode, OutcomeRejected).Inc()
}

// JobStarted and JobFinished track queued or running asynchronous imports.
func JobStarted()  { jobsInFlight.Inc() }
func JobFinished() { jobsInFlight.Dec() }

// RecordJobsReaped counts jobs failed by the reaper.
func RecordJobsReaped(n int) {
	if n > 0 {
		jobsReaped.Add(float64(n))
	}
}
