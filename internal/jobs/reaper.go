package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/observability"
)

// AbandonedMessage is recorded on jobs failed by the reaper.
const AbandonedMessage = "import abandoned"

// Reaper fails jobs left pending or processing by a worker that died with its process.
type Reaper struct {
	jobs       domain.JobStore
	staleAfter time.Duration
	logger     logrus.FieldLogger
	now        func() time.Time
	cron       *cron.Cron
}

// NewReaper constructs a Reaper that fails unfinished jobs not updated for staleAfter.
func NewReaper(jobs domain.JobStore, staleAfter time.Duration, logger logrus.FieldLogger) *Reaper {
	return &Reaper{
		jobs:       jobs,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep fails every stale job once and returns how many were failed.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	n, err := r.jobs.FailStale(ctx, cutoff, AbandonedMessage)
	if err != nil {
		return 0, err
	}
	observability.RecordJobsReaped(n)
	if n > 0 {
		r.logger.WithFields(logrus.Fields{"count": n, "cutoff": cutoff}).Warn("reaped stale import jobs")
	}
	return n, nil
}

// Schedule runs Sweep on the given cron spec until Stop is called.
func (r *Reaper) Schedule(spec string) error {
	c := cron.New()
	if err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		defer cancel()
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.WithError(err).Error("stale job sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop halts scheduled sweeps.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}
