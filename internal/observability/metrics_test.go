package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordImportCommittedCountsEntities(t *testing.T) {
	beforeSessions := testutil.ToFloat64(entitiesImported.WithLabelValues("sessions"))
	beforeSkipped := testutil.ToFloat64(entitiesSkipped)
	beforeSuccess := testutil.ToFloat64(importsTotal.WithLabelValues(ModeSync, OutcomeSuccess))
	beforeSamples := durationSamples(t, ModeSync)

	RecordImportCommitted(ModeSync, ImportCounts{Sessions: 3, Skipped: 2, Unresolved: 1}, 150*time.Millisecond, time.Now())

	require.InDelta(t, beforeSessions+3, testutil.ToFloat64(entitiesImported.WithLabelValues("sessions")), 0.0001)
	require.InDelta(t, beforeSkipped+2, testutil.ToFloat64(entitiesSkipped), 0.0001)
	require.InDelta(t, beforeSuccess+1, testutil.ToFloat64(importsTotal.WithLabelValues(ModeSync, OutcomeSuccess)), 0.0001)
	require.Equal(t, beforeSamples+1, durationSamples(t, ModeSync))
}

func TestRecordImportCommittedPlanLeavesEntityCounters(t *testing.T) {
	before := testutil.ToFloat64(entitiesImported.WithLabelValues("templates"))

	RecordImportCommitted(ModePlan, ImportCounts{Templates: 5}, time.Millisecond, time.Now())

	require.InDelta(t, before, testutil.ToFloat64(entitiesImported.WithLabelValues("templates")), 0.0001)
}

func TestJobsInFlightGauge(t *testing.T) {
	before := testutil.ToFloat64(jobsInFlight)
	JobStarted()
	require.InDelta(t, before+1, testutil.ToFloat64(jobsInFlight), 0.0001)
	JobFinished()
	require.InDelta(t, before, testutil.ToFloat64(jobsInFlight), 0.0001)
}

func durationSamples(t *testing.T, mode string) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	observer, err := importDuration.GetMetricWithLabelValues(mode)
	require.NoError(t, err)
	require.NoError(t, observer.(prometheus.Metric).Write(metric))
	return metric.GetHistogram().GetSampleCount()
}
