// Package memory provides in-process implementations of the store ports for local
// development and tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/backuprestore/internal/domain"
)

type state struct {
	exercises []domain.Exercise
	templates []domain.WorkoutTemplate
	scheduled []domain.ScheduledWorkout
	sessions  []domain.WorkoutSession
	outbox    []domain.OutboxEvent
}

func (s state) clone() state {
	return state{
		exercises: slices.Clone(s.exercises),
		templates: slices.Clone(s.templates),
		scheduled: slices.Clone(s.scheduled),
		sessions:  slices.Clone(s.sessions),
		outbox:    slices.Clone(s.outbox),
	}
}

// Store keeps training data in memory. Units of work are serialised and applied by
// swapping in a working copy on commit.
type Store struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	current state
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// SeedExercise inserts an exercise directly, bypassing units of work.
func (s *Store) SeedExercise(exercise domain.Exercise) domain.Exercise {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(exercise.ID) == "" {
		exercise.ID = uuid.NewString()
	}
	if exercise.CreatedAt.IsZero() {
		exercise.CreatedAt = time.Now().UTC()
	}
	s.current.exercises = append(s.current.exercises, exercise)
	return exercise
}

// WithinTx implements domain.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, fn, true)
}

// Rehearse implements domain.Store.
func (s *Store) Rehearse(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.run(ctx, fn, false)
}

func (s *Store) run(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error, commit bool) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := s.current.clone()
	s.mu.RUnlock()

	tx := &memTx{state: &working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = working
	s.mu.Unlock()
	return nil
}

// Exercises returns a snapshot of stored exercises.
func (s *Store) Exercises() []domain.Exercise {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.exercises)
}

// Templates returns a snapshot of stored templates.
func (s *Store) Templates() []domain.WorkoutTemplate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.templates)
}

// ScheduledWorkouts returns a snapshot of stored scheduled workouts.
func (s *Store) ScheduledWorkouts() []domain.ScheduledWorkout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.scheduled)
}

// Sessions returns a snapshot of stored sessions.
func (s *Store) Sessions() []domain.WorkoutSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.sessions)
}

// Outbox returns a snapshot of recorded outbox events.
func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.current.outbox)
}

type memTx struct {
	state *state
}

// LockOwner is a no-op; units of work are already serialised.
func (t *memTx) LockOwner(context.Context, string) error {
	return nil
}

func (t *memTx) FindExercisesByName(_ context.Context, name string) ([]domain.Exercise, error) {
	var out []domain.Exercise
	for _, ex := range t.state.exercises {
		if !ex.IsDeleted && strings.EqualFold(ex.Name, name) {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (t *memTx) OwnerHasExercise(_ context.Context, ownerID, name string) (bool, error) {
	for _, ex := range t.state.exercises {
		if ex.OwnedBy(ownerID) && !ex.IsDeleted && strings.EqualFold(ex.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) OwnerHasTemplate(_ context.Context, ownerID, name string) (bool, error) {
	for _, tpl := range t.state.templates {
		if tpl.OwnerID == ownerID && strings.EqualFold(tpl.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) OwnerHasScheduledOn(_ context.Context, ownerID string, day time.Time) (bool, error) {
	day = domain.CalendarDay(day)
	for _, sw := range t.state.scheduled {
		if sw.OwnerID == ownerID && domain.CalendarDay(sw.ScheduledDate).Equal(day) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) OwnerHasSessionBetween(_ context.Context, ownerID string, from, to time.Time) (bool, error) {
	for _, s := range t.state.sessions {
		if s.OwnerID == ownerID && !s.StartedAt.Before(from) && !s.StartedAt.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CreateExercise(_ context.Context, exercise *domain.Exercise) error {
	stamp(&exercise.ID, &exercise.CreatedAt)
	t.state.exercises = append(t.state.exercises, *exercise)
	return nil
}

func (t *memTx) CreateTemplate(_ context.Context, template *domain.WorkoutTemplate) error {
	stamp(&template.ID, &template.CreatedAt)
	t.state.templates = append(t.state.templates, *template)
	return nil
}

func (t *memTx) CreateScheduledWorkout(_ context.Context, scheduled *domain.ScheduledWorkout) error {
	stamp(&scheduled.ID, &scheduled.CreatedAt)
	t.state.scheduled = append(t.state.scheduled, *scheduled)
	return nil
}

func (t *memTx) CreateSession(_ context.Context, session *domain.WorkoutSession) error {
	stamp(&session.ID, &session.CreatedAt)
	t.state.sessions = append(t.state.sessions, *session)
	return nil
}

func (t *memTx) AppendOutbox(_ context.Context, event domain.OutboxEvent) error {
	t.state.outbox = append(t.state.outbox, event)
	return nil
}

func stamp(id *string, createdAt *time.Time) {
	if strings.TrimSpace(*id) == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now().UTC()
	}
}
