package memory

import (
	"context"
	"sync"
	"time"

	"example.com/backuprestore/internal/domain"
)

// JobStore keeps import jobs in memory.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.ImportJob
	now  func() time.Time
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]domain.ImportJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *JobStore) Create(_ context.Context, job domain.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = job
	return nil
}

func (s *JobStore) MarkProcessing(_ context.Context, jobID string) error {
	return s.transition(jobID, domain.JobStatusProcessing, func(*domain.ImportJob) {})
}

func (s *JobStore) Complete(_ context.Context, jobID string, summary domain.ImportSummary) error {
	return s.transition(jobID, domain.JobStatusCompleted, func(job *domain.ImportJob) {
		job.Summary = &summary
	})
}

func (s *JobStore) Fail(_ context.Context, jobID string, message string) error {
	return s.transition(jobID, domain.JobStatusFailed, func(job *domain.ImportJob) {
		job.Error = &message
	})
}

func (s *JobStore) transition(jobID string, next domain.JobStatus, apply func(*domain.ImportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(next) {
		return domain.ErrInvalidTransition
	}
	job.Status = next
	job.UpdatedAt = s.now()
	apply(&job)
	s.jobs[jobID] = job
	return nil
}

func (s *JobStore) Get(_ context.Context, ownerID, jobID string) (*domain.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

// FailStale fails pending or processing jobs that have not been updated since olderThan.
func (s *JobStore) FailStale(_ context.Context, olderThan time.Time, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() || !job.UpdatedAt.Before(olderThan) {
			continue
		}
		msg := message
		job.Status = domain.JobStatusFailed
		job.Error = &msg
		job.UpdatedAt = s.now()
		s.jobs[id] = job
		count++
	}
	return count, nil
}
