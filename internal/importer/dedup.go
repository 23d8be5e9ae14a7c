package importer

import (
	"context"
	"time"

	"example.com/backuprestore/internal/domain"
)

// DefaultSessionWindow is the start time tolerance inside which two sessions are treated
// as the same workout.
const DefaultSessionWindow = 60 * time.Second

// Dedup decides whether an incoming record already exists for the importing user.
// All checks read through the active unit of work, so records created earlier in the
// same import count as existing.
type Dedup struct {
	SessionWindow time.Duration
}

// NewDedup returns a Dedup with the default session window.
func NewDedup() Dedup {
	return Dedup{SessionWindow: DefaultSessionWindow}
}

func (d Dedup) ExerciseExists(ctx context.Context, tx domain.Tx, ownerID, name string) (bool, error) {
	return tx.OwnerHasExercise(ctx, ownerID, name)
}

func (d Dedup) TemplateExists(ctx context.Context, tx domain.Tx, ownerID, name string) (bool, error) {
	return tx.OwnerHasTemplate(ctx, ownerID, name)
}

// ScheduledExists compares calendar dates only; the time of day is ignored.
func (d Dedup) ScheduledExists(ctx context.Context, tx domain.Tx, ownerID string, day time.Time) (bool, error) {
	return tx.OwnerHasScheduledOn(ctx, ownerID, domain.CalendarDay(day))
}

// SessionExists reports a session starting within the window, bounds inclusive.
func (d Dedup) SessionExists(ctx context.Context, tx domain.Tx, ownerID string, startedAt time.Time) (bool, error) {
	window := d.SessionWindow
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return tx.OwnerHasSessionBetween(ctx, ownerID, startedAt.Add(-window), startedAt.Add(window))
}
