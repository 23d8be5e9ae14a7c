//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/backuprestore/internal/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	owner := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, owner, events.TypeBackupImported))

	producer := &stubProducer{}
	dispatcher := newTestDispatcher(pool, producer, &stubRegistry{id: 42})

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	n, err := dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Len(t, producer.writes, 1)
	require.Equal(t, "backup_imports", producer.writes[0].topic)
	require.Equal(t, owner, string(producer.writes[0].messages[0].Key))
	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM import_outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)

	n, err = dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDispatcherRoutesFailuresToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	owner := uuid.NewString()
	eventID := seedOutbox(t, ctx, pool, owner, events.TypeImportJobStateChanged)

	dispatcher := newTestDispatcher(pool, &stubProducer{err: errors.New("kafka write failed")}, &stubRegistry{id: 7})

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("import_job_state_changed"))

	_, err := dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("import_job_state_changed")), 0.0001)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT reason FROM import_outbox_dlq WHERE event_id = $1 AND owner_id = $2`, eventID, owner).Scan(&reason))
	require.Contains(t, reason, "kafka write failed")

	var publishedAt *time.Time
	require.NoError(t, pool.QueryRow(ctx, `SELECT published_at FROM import_outbox WHERE event_id = $1`, eventID).Scan(&publishedAt))
	require.NotNil(t, publishedAt)
}

func TestDispatcherSkipsFreshClaims(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeBackupImported)
	_, err := pool.Exec(ctx, `UPDATE import_outbox SET claimed_at = NOW() WHERE event_id = $1`, eventID)
	require.NoError(t, err)

	producer := &stubProducer{}
	dispatcher := newTestDispatcher(pool, producer, &stubRegistry{id: 1})

	n, err := dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = pool.Exec(ctx, `UPDATE import_outbox SET claimed_at = NOW() - INTERVAL '5 minutes' WHERE event_id = $1`, eventID)
	require.NoError(t, err)

	n, err = dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, producer.writes, 1)
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := setupPostgres(t, context.Background())

	dispatcher := newTestDispatcher(pool, &stubProducer{}, &stubRegistry{id: 1})
	go dispatcher.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func newTestDispatcher(pool *pgxpool.Pool, producer *stubProducer, registry *stubRegistry) *Dispatcher {
	logger, _ := test.NewNullLogger()
	return NewDispatcher(pool, producer, registry, Config{PollInterval: 10 * time.Millisecond, BatchSize: 5}, logger)
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, ownerID, eventType string) int64 {
	t.Helper()

	topic, key := "backup_imports", ownerID
	if eventType == events.TypeImportJobStateChanged {
		topic, key = "import_job_state_changed", uuid.NewString()
	}

	var eventID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO import_outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         RETURNING event_id`,
		ownerID, "backup_import", uuid.NewString(), eventType, topic, topic+"-value", key, []byte(`{"user_id":"`+ownerID+`"}`),
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	return metric.GetHistogram().GetSampleCount()
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("training"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)
	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(contents))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
	return pool
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
