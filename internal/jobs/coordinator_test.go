package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/importer"
	"example.com/backuprestore/internal/persistence/memory"
)

const kib = 1024

type fakeImporter struct {
	fn func(ctx context.Context, ownerID string) (domain.ImportSummary, error)
}

func (f *fakeImporter) Import(ctx context.Context, ownerID string, _ *backup.Backup) (domain.ImportSummary, error) {
	return f.fn(ctx, ownerID)
}

func (f *fakeImporter) Plan(ctx context.Context, ownerID string, _ *backup.Backup) (domain.ImportSummary, error) {
	return f.fn(ctx, ownerID)
}

func summaryWithSessions(n int) domain.ImportSummary {
	s := domain.NewImportSummary()
	s.Imported.Sessions = n
	return s
}

func newCoordinator(t *testing.T, cfg Config, imp Importer) (*Coordinator, *memory.JobStore) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.NewJobStore()
	c := NewCoordinator(cfg, imp, store, logger)
	c.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c, store
}

func payload(size int) []byte {
	return bytes.Repeat([]byte(" "), size)
}

func waitForStatus(t *testing.T, c *Coordinator, ownerID, jobID string, want domain.JobStatus) *domain.ImportJob {
	t.Helper()
	var job *domain.ImportJob
	require.Eventually(t, func() bool {
		got, err := c.Status(context.Background(), ownerID, jobID)
		if err != nil {
			return false
		}
		job = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestSubmitSmallPayloadRunsInline(t *testing.T) {
	c, _ := newCoordinator(t, Config{}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return summaryWithSessions(2), nil
	}})

	res, err := c.Submit(context.Background(), "u1", payload(500*kib), &backup.Backup{})
	require.NoError(t, err)
	require.Equal(t, ModeSync, res.Mode)
	require.NotNil(t, res.Summary)
	require.Equal(t, 2, res.Summary.Imported.Sessions)
	require.Empty(t, res.JobID)
}

func TestSubmitLargePayloadCreatesPendingJob(t *testing.T) {
	release := make(chan struct{})
	c, _ := newCoordinator(t, Config{}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		<-release
		return summaryWithSessions(7), nil
	}})

	res, err := c.Submit(context.Background(), "u1", payload(2*1024*kib), &backup.Backup{})
	require.NoError(t, err)
	require.Equal(t, ModeAsync, res.Mode)
	require.Equal(t, domain.JobStatusPending, res.Status)
	require.Nil(t, res.Summary)
	require.NotEmpty(t, res.JobID)

	waitForStatus(t, c, "u1", res.JobID, domain.JobStatusProcessing)
	close(release)

	job := waitForStatus(t, c, "u1", res.JobID, domain.JobStatusCompleted)
	require.NotNil(t, job.Summary)
	require.Equal(t, 7, job.Summary.Imported.Sessions)
	require.Nil(t, job.Error)
}

func TestSubmitThresholdIsExclusive(t *testing.T) {
	c, _ := newCoordinator(t, Config{AsyncThreshold: 100}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return domain.NewImportSummary(), nil
	}})

	res, err := c.Submit(context.Background(), "u1", payload(100), &backup.Backup{})
	require.NoError(t, err)
	require.Equal(t, ModeSync, res.Mode)

	res, err = c.Submit(context.Background(), "u1", payload(101), &backup.Backup{})
	require.NoError(t, err)
	require.Equal(t, ModeAsync, res.Mode)
}

func TestAsyncFailureMarksJobFailed(t *testing.T) {
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return domain.ImportSummary{}, errors.New("import transaction failed: sessions[3]: connection reset")
	}})

	res, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)

	job := waitForStatus(t, c, "u1", res.JobID, domain.JobStatusFailed)
	require.Nil(t, job.Summary)
	require.NotNil(t, job.Error)
	require.Contains(t, *job.Error, "sessions[3]")
}

func TestAsyncPanicMarksJobFailed(t *testing.T) {
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		panic("nil map write")
	}})

	res, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)

	job := waitForStatus(t, c, "u1", res.JobID, domain.JobStatusFailed)
	require.Contains(t, *job.Error, "nil map write")

	require.Eventually(t, func() bool { return c.users.inFlight("u1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestAsyncDeadlineMarksJobFailed(t *testing.T) {
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10, JobTimeout: 50 * time.Millisecond}, &fakeImporter{fn: func(ctx context.Context, _ string) (domain.ImportSummary, error) {
		<-ctx.Done()
		return domain.ImportSummary{}, ctx.Err()
	}})

	res, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)

	job := waitForStatus(t, c, "u1", res.JobID, domain.JobStatusFailed)
	require.Equal(t, "import timed out after 50ms", *job.Error)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	started := make(chan struct{})
	logger, _ := test.NewNullLogger()
	store := memory.NewJobStore()
	c := NewCoordinator(Config{AsyncThreshold: 10}, &fakeImporter{fn: func(ctx context.Context, _ string) (domain.ImportSummary, error) {
		close(started)
		<-ctx.Done()
		return domain.ImportSummary{}, ctx.Err()
	}}, store, logger)
	c.Start(context.Background())

	res, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	job, err := store.Get(context.Background(), "u1", res.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, job.Status)
	require.Equal(t, "import cancelled", *job.Error)

	_, err = c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestPerUserLimit(t *testing.T) {
	release := make(chan struct{})
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10, MaxPerUser: 1}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		<-release
		return domain.NewImportSummary(), nil
	}})
	defer close(release)

	first, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.ErrorIs(t, err, ErrTooManyImports)

	other, err := c.Submit(context.Background(), "u2", payload(11), &backup.Backup{})
	require.NoError(t, err)
	require.NotEqual(t, first.JobID, other.JobID)
}

func TestGlobalConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10, MaxConcurrent: 1}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		<-release
		return domain.NewImportSummary(), nil
	}})

	first, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)
	waitForStatus(t, c, "u1", first.JobID, domain.JobStatusProcessing)

	second, err := c.Submit(context.Background(), "u2", payload(11), &backup.Backup{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	job, err := c.Status(context.Background(), "u2", second.JobID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusPending, job.Status)

	close(release)
	waitForStatus(t, c, "u1", first.JobID, domain.JobStatusCompleted)
	waitForStatus(t, c, "u2", second.JobID, domain.JobStatusCompleted)
}

func TestStatusHidesForeignJobs(t *testing.T) {
	c, _ := newCoordinator(t, Config{AsyncThreshold: 10}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return domain.NewImportSummary(), nil
	}})

	res, err := c.Submit(context.Background(), "u1", payload(11), &backup.Backup{})
	require.NoError(t, err)

	_, err = c.Status(context.Background(), "u2", res.JobID)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSyncFailureReturnsErrorWithoutJob(t *testing.T) {
	boom := errors.New("boom")
	c, _ := newCoordinator(t, Config{}, &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return domain.ImportSummary{}, boom
	}})

	_, err := c.Submit(context.Background(), "u1", payload(10), &backup.Backup{})
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.users.inFlight("u1"))
}

func TestCoordinatorWithRealImporterRoutesBySize(t *testing.T) {
	store := memory.NewStore()
	logger, _ := test.NewNullLogger()
	imp := importer.New(store, logger)

	small := []byte(`{"schemaVersion":"1.0","sessions":[{"startedAt":"2025-04-07T17:00:00Z"}]}`)
	b, err := backup.Parse(small)
	require.NoError(t, err)

	c, _ := newCoordinator(t, Config{AsyncThreshold: 1024 * kib}, imp)

	res, err := c.Submit(context.Background(), "u1", small, b)
	require.NoError(t, err)
	require.Equal(t, ModeSync, res.Mode)
	require.Equal(t, 1, res.Summary.Imported.Sessions)

	// Padding keeps the document valid while pushing it past the threshold.
	large := append(bytes.Repeat([]byte(" "), 2*1024*kib), small...)
	b2, err := backup.Parse(large)
	require.NoError(t, err)

	res, err = c.Submit(context.Background(), "u2", large, b2)
	require.NoError(t, err)
	require.Equal(t, ModeAsync, res.Mode)

	job := waitForStatus(t, c, "u2", res.JobID, domain.JobStatusCompleted)
	require.Equal(t, 1, job.Summary.Imported.Sessions)
	require.Len(t, store.Sessions(), 2)
}

func TestRouteForUsesExclusiveThreshold(t *testing.T) {
	c := NewCoordinator(Config{AsyncThreshold: 1 * kib}, &fakeImporter{}, memory.NewJobStore(), logrus.New())

	require.Equal(t, ModeSync, c.RouteFor(1*kib))
	require.Equal(t, ModeAsync, c.RouteFor(1*kib+1))
}

func TestTruncateReasonKeepsRunesWhole(t *testing.T) {
	reason := truncateReason(strings.Repeat("é", 550))
	require.LessOrEqual(t, len(reason), 1000)
	require.True(t, utf8.ValidString(reason))
	require.Equal(t, strings.Repeat("é", 500), reason)

	require.Equal(t, "short", truncateReason("  short  "))
}

// gatedJobStore blocks Create until release is closed.
type gatedJobStore struct {
	*memory.JobStore
	entered chan string
	release chan struct{}
}

func (s *gatedJobStore) Create(ctx context.Context, job domain.ImportJob) error {
	s.entered <- job.OwnerID
	<-s.release
	return s.JobStore.Create(ctx, job)
}

func TestEnqueueDoesNotSerialiseJobCreation(t *testing.T) {
	store := &gatedJobStore{JobStore: memory.NewJobStore(), entered: make(chan string, 2), release: make(chan struct{})}
	logger, _ := test.NewNullLogger()
	imp := &fakeImporter{fn: func(context.Context, string) (domain.ImportSummary, error) {
		return summaryWithSessions(1), nil
	}}
	c := NewCoordinator(Config{AsyncThreshold: 1}, imp, store, logger)
	c.Start(context.Background())

	results := make(chan error, 2)
	for _, user := range []string{"u1", "u2"} {
		go func() {
			_, err := c.Submit(context.Background(), user, payload(8), &backup.Backup{})
			results <- err
		}()
	}

	for range 2 {
		select {
		case <-store.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("job creation was serialised")
		}
	}
	close(store.release)
	require.NoError(t, <-results)
	require.NoError(t, <-results)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))
}
