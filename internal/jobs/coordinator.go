// Package jobs routes validated backups to inline or background imports and supervises
// the background workers and their job records.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/observability"
)

// ErrNotRunning is returned for background submissions before Start or after Shutdown.
var ErrNotRunning = errors.New("import coordinator is not running")

const (
	DefaultAsyncThreshold = 1 << 20
	DefaultJobTimeout     = 10 * time.Minute
	DefaultMaxConcurrent  = 4

	bookkeepingTimeout = 10 * time.Second
)

// Importer applies backups. It is satisfied by *importer.Importer.
type Importer interface {
	Import(ctx context.Context, ownerID string, b *backup.Backup) (domain.ImportSummary, error)
	Plan(ctx context.Context, ownerID string, b *backup.Backup) (domain.ImportSummary, error)
}

// Config tunes routing and the worker pool.
type Config struct {
	// AsyncThreshold is the raw payload size in bytes above which imports run in the background.
	AsyncThreshold int64
	JobTimeout     time.Duration
	MaxConcurrent  int64
	MaxPerUser     int
}

// Mode reports how a submission was handled.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Result is the outcome of Submit: a summary for inline imports, a job id otherwise.
type Result struct {
	Mode    Mode
	Summary *domain.ImportSummary
	JobID   string
	Status  domain.JobStatus
}

// Coordinator decides between inline and background processing and owns every job
// state transition.
type Coordinator struct {
	cfg      Config
	importer Importer
	jobs     domain.JobStore
	logger   logrus.FieldLogger
	sem      *semaphore.Weighted
	users    *userLimiter
	now      func() time.Time

	mu      sync.Mutex
	running bool
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator constructs a Coordinator. Zero config values fall back to defaults.
func NewCoordinator(cfg Config, importer Importer, jobs domain.JobStore, logger logrus.FieldLogger) *Coordinator {
	if cfg.AsyncThreshold <= 0 {
		cfg.AsyncThreshold = DefaultAsyncThreshold
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Coordinator{
		cfg:      cfg,
		importer: importer,
		jobs:     jobs,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		users:    newUserLimiter(cfg.MaxPerUser),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start enables background imports. Workers inherit ctx; cancelling it has the same
// effect as Shutdown without waiting.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.baseCtx, c.cancel = context.WithCancel(ctx)
	c.running = true
}

// Shutdown stops accepting background work, cancels running imports and waits for every
// worker to record a terminal state or for ctx to expire.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.running = false
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit imports b for ownerID. Payloads whose raw size exceeds the async threshold get
// a pending job and are applied in the background; smaller ones are applied inline.
func (c *Coordinator) Submit(ctx context.Context, ownerID string, raw []byte, b *backup.Backup) (Result, error) {
	mode := c.RouteFor(len(raw))

	if !c.users.tryAcquire(ownerID) {
		observability.RecordImportRejected(string(mode))
		return Result{}, ErrTooManyImports
	}

	if mode == ModeSync {
		defer c.users.release(ownerID)
		summary, err := c.runImport(ctx, observability.ModeSync, ownerID, b)
		if err != nil {
			return Result{}, err
		}
		return Result{Mode: ModeSync, Summary: &summary}, nil
	}

	jobID, err := c.enqueue(ctx, ownerID, b)
	if err != nil {
		c.users.release(ownerID)
		return Result{}, err
	}
	return Result{Mode: ModeAsync, JobID: jobID, Status: domain.JobStatusPending}, nil
}

// RouteFor reports how Submit handles a payload of size bytes.
func (c *Coordinator) RouteFor(size int) Mode {
	if int64(size) > c.cfg.AsyncThreshold {
		return ModeAsync
	}
	return ModeSync
}

// Plan reports what importing b would do without committing anything.
func (c *Coordinator) Plan(ctx context.Context, ownerID string, b *backup.Backup) (domain.ImportSummary, error) {
	start := time.Now()
	summary, err := c.importer.Plan(ctx, ownerID, b)
	if err != nil {
		observability.RecordImportFailed(observability.ModePlan)
		return domain.ImportSummary{}, err
	}
	observability.RecordImportCommitted(observability.ModePlan, countsOf(summary), time.Since(start), time.Time{})
	return summary, nil
}

// Status returns the job if ownerID owns it, domain.ErrJobNotFound otherwise.
func (c *Coordinator) Status(ctx context.Context, ownerID, jobID string) (*domain.ImportJob, error) {
	return c.jobs.Get(ctx, ownerID, jobID)
}

func (c *Coordinator) enqueue(ctx context.Context, ownerID string, b *backup.Backup) (string, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return "", ErrNotRunning
	}
	base := c.baseCtx
	c.wg.Add(1)
	c.mu.Unlock()

	now := c.now()
	job := domain.ImportJob{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		c.wg.Done()
		return "", fmt.Errorf("create import job: %w", err)
	}

	observability.JobStarted()
	go c.work(base, job.ID, ownerID, b)
	return job.ID, nil
}

func (c *Coordinator) work(base context.Context, jobID, ownerID string, b *backup.Backup) {
	logger := c.logger.WithFields(logrus.Fields{"job_id": jobID, "owner_id": ownerID})
	defer c.wg.Done()
	defer observability.JobFinished()
	defer c.users.release(ownerID)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("import worker panicked")
			c.fail(base, logger, jobID, fmt.Sprintf("import failed: internal error (%v)", r))
		}
	}()

	if err := c.sem.Acquire(base, 1); err != nil {
		c.fail(base, logger, jobID, "import cancelled")
		return
	}
	defer c.sem.Release(1)

	bookCtx, cancel := bookkeepingContext(base)
	err := c.jobs.MarkProcessing(bookCtx, jobID)
	cancel()
	if errors.Is(err, domain.ErrInvalidTransition) {
		logger.Warn("import job was reaped before it started")
		return
	}
	if err != nil {
		logger.WithError(err).Error("failed to mark import job processing")
		c.fail(base, logger, jobID, "import could not start")
		return
	}

	jobCtx, cancelJob := context.WithTimeout(base, c.cfg.JobTimeout)
	defer cancelJob()

	summary, err := c.runImport(jobCtx, observability.ModeAsync, ownerID, b)
	if err != nil {
		c.fail(base, logger, jobID, c.failureMessage(base, jobCtx, err))
		return
	}

	bookCtx, cancel = bookkeepingContext(base)
	defer cancel()
	if err := c.jobs.Complete(bookCtx, jobID, summary); err != nil {
		logger.WithError(err).Error("failed to complete import job")
		return
	}
	logger.Info("import job completed")
}

func (c *Coordinator) runImport(ctx context.Context, mode, ownerID string, b *backup.Backup) (domain.ImportSummary, error) {
	start := time.Now()
	summary, err := c.importer.Import(ctx, ownerID, b)
	if err != nil {
		observability.RecordImportFailed(mode)
		return domain.ImportSummary{}, err
	}
	observability.RecordImportCommitted(mode, countsOf(summary), time.Since(start), c.now())
	return summary, nil
}

func (c *Coordinator) failureMessage(base, jobCtx context.Context, err error) string {
	switch {
	case base.Err() != nil:
		return "import cancelled"
	case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("import timed out after %s", c.cfg.JobTimeout)
	default:
		return truncateReason(err.Error())
	}
}

func (c *Coordinator) fail(base context.Context, logger logrus.FieldLogger, jobID, message string) {
	ctx, cancel := bookkeepingContext(base)
	defer cancel()
	if err := c.jobs.Fail(ctx, jobID, message); err != nil {
		logger.WithError(err).Error("failed to record import job failure")
		return
	}
	logger.WithField("reason", message).Warn("import job failed")
}

// bookkeepingContext outlives cancellation of base so terminal states are still written
// during shutdown.
func bookkeepingContext(base context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(base), bookkeepingTimeout)
}

func truncateReason(reason string) string {
	const maxLen = 1000
	reason = strings.TrimSpace(reason)
	if len(reason) <= maxLen {
		return reason
	}
	n := maxLen
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}

func countsOf(s domain.ImportSummary) observability.ImportCounts {
	return observability.ImportCounts{
		Sessions:   s.Imported.Sessions,
		Exercises:  s.Imported.Exercises,
		Templates:  s.Imported.Templates,
		Scheduled:  s.Imported.Scheduled,
		Skipped:    s.Skipped,
		Unresolved: s.UnresolvedReferences,
	}
}
