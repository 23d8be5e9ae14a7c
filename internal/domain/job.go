package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job does not exist or belongs to another owner.
	ErrJobNotFound = errors.New("import job not found")
	// ErrInvalidTransition is returned when a status change would move a job backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid import job transition")
)

// JobStatus is the lifecycle state of an asynchronous import.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition may happen from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces pending -> processing -> completed|failed, with pending -> failed for jobs that never start.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Predecessors lists the states from which a job may move to s.
func (s JobStatus) Predecessors() []JobStatus {
	var out []JobStatus
	for _, prev := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if prev.CanTransitionTo(s) {
			out = append(out, prev)
		}
	}
	return out
}

// ImportJob tracks one asynchronous import.
type ImportJob struct {
	ID        string
	OwnerID   string
	Status    JobStatus
	Summary   *ImportSummary
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStore persists import jobs. Get must return ErrJobNotFound when ownerID does not own the job.
type JobStore interface {
	Create(ctx context.Context, job ImportJob) error
	MarkProcessing(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, summary ImportSummary) error
	Fail(ctx context.Context, jobID string, message string) error
	Get(ctx context.Context, ownerID, jobID string) (*ImportJob, error)
	FailStale(ctx context.Context, olderThan time.Time, message string) (int, error)
}
