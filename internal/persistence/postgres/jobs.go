package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/events"
)

// JobStore persists import jobs and records a state change event with every transition.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore constructs a JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create implements domain.JobStore.
func (s *JobStore) Create(ctx context.Context, job domain.ImportJob) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	_, err = tx.Exec(ctx, `INSERT INTO import_jobs (job_id, owner_id, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$4)`, job.ID, job.OwnerID, string(job.Status), job.CreatedAt)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, stateChanged(job.ID, job.OwnerID, job.Status, "", job.CreatedAt)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkProcessing implements domain.JobStore.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, domain.JobStatusProcessing, nil, nil)
}

// Complete implements domain.JobStore.
func (s *JobStore) Complete(ctx context.Context, jobID string, summary domain.ImportSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return s.transition(ctx, jobID, domain.JobStatusCompleted, body, nil)
}

// Fail implements domain.JobStore.
func (s *JobStore) Fail(ctx context.Context, jobID string, message string) error {
	return s.transition(ctx, jobID, domain.JobStatusFailed, nil, &message)
}

func (s *JobStore) transition(ctx context.Context, jobID string, next domain.JobStatus, summary []byte, message *string) (err error) {
	if _, parseErr := uuid.Parse(jobID); parseErr != nil {
		return domain.ErrJobNotFound
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	prior := make([]string, 0, 2)
	for _, st := range next.Predecessors() {
		prior = append(prior, string(st))
	}

	var ownerID string
	var updatedAt time.Time
	err = tx.QueryRow(ctx, `UPDATE import_jobs
        SET status = $2, summary = COALESCE($3, summary), error = COALESCE($4, error), updated_at = NOW()
        WHERE job_id = $1 AND status = ANY($5)
        RETURNING owner_id, updated_at`,
		jobID, string(next), summary, message, prior,
	).Scan(&ownerID, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM import_jobs WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			err = domain.ErrInvalidTransition
		} else {
			err = domain.ErrJobNotFound
		}
		return err
	}
	if err != nil {
		return err
	}

	reason := ""
	if message != nil {
		reason = *message
	}
	if err = insertOutbox(ctx, tx, stateChanged(jobID, ownerID, next, reason, updatedAt)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get implements domain.JobStore.
func (s *JobStore) Get(ctx context.Context, ownerID, jobID string) (*domain.ImportJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	const query = `SELECT job_id::text, owner_id, status, summary, error, created_at, updated_at
        FROM import_jobs WHERE job_id = $1 AND owner_id = $2`

	var (
		job     domain.ImportJob
		status  string
		summary []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID, ownerID).Scan(&job.ID, &job.OwnerID, &status, &summary, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	if len(summary) > 0 {
		var decoded domain.ImportSummary
		if err := json.Unmarshal(summary, &decoded); err != nil {
			return nil, err
		}
		job.Summary = &decoded
	}
	return &job, nil
}

// FailStale implements domain.JobStore.
func (s *JobStore) FailStale(ctx context.Context, olderThan time.Time, message string) (n int, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `UPDATE import_jobs
        SET status = 'failed', error = $2, updated_at = NOW()
        WHERE status IN ('pending', 'processing') AND updated_at < $1
        RETURNING job_id::text, owner_id, updated_at`, olderThan, message)
	if err != nil {
		return 0, err
	}

	type reaped struct {
		id, owner string
		at        time.Time
	}
	var jobs []reaped
	for rows.Next() {
		var r reaped
		if err = rows.Scan(&r.id, &r.owner, &r.at); err != nil {
			rows.Close()
			return 0, err
		}
		jobs = append(jobs, r)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range jobs {
		if err = insertOutbox(ctx, tx, stateChanged(r.id, r.owner, domain.JobStatusFailed, message, r.at)); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func stateChanged(jobID, ownerID string, status domain.JobStatus, reason string, at time.Time) domain.OutboxEvent {
	return domain.OutboxEvent{
		Type:        events.TypeImportJobStateChanged,
		AggregateID: jobID,
		OwnerID:     ownerID,
		Payload: events.ImportJobStateChanged{
			JobID:      jobID,
			UserID:     ownerID,
			State:      string(status),
			OccurredAt: at.UTC(),
			Reason:     reason,
		},
	}
}
