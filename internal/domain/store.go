package domain

import (
	"context"
	"time"
)

// Tx is the unit of work the importer runs against. Reads observe writes made earlier in the same Tx.
type Tx interface {
	// LockOwner serialises units of work for the same owner until the Tx ends.
	LockOwner(ctx context.Context, ownerID string) error

	// FindExercisesByName returns every non-deleted exercise whose name equals name case-insensitively, across all owners.
	FindExercisesByName(ctx context.Context, name string) ([]Exercise, error)
	OwnerHasExercise(ctx context.Context, ownerID, name string) (bool, error)
	OwnerHasTemplate(ctx context.Context, ownerID, name string) (bool, error)
	OwnerHasScheduledOn(ctx context.Context, ownerID string, day time.Time) (bool, error)
	// OwnerHasSessionBetween checks for a session whose start lies in [from, to].
	OwnerHasSessionBetween(ctx context.Context, ownerID string, from, to time.Time) (bool, error)

	CreateExercise(ctx context.Context, exercise *Exercise) error
	CreateTemplate(ctx context.Context, template *WorkoutTemplate) error
	CreateScheduledWorkout(ctx context.Context, scheduled *ScheduledWorkout) error
	CreateSession(ctx context.Context, session *WorkoutSession) error

	AppendOutbox(ctx context.Context, event OutboxEvent) error
}

// Store opens units of work.
type Store interface {
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Rehearse runs fn in a unit of work that is always rolled back.
	Rehearse(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxEvent is a domain event recorded atomically with the writes that caused it.
type OutboxEvent struct {
	Type        string
	AggregateID string
	OwnerID     string
	Payload     any
}
