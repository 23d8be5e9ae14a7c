// Package importer applies validated backups to a user's account inside a single unit of
// work: exercise resolution, per-entity deduplication and creation, all or nothing.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/events"
)

// ErrTransaction marks an import whose unit of work was rolled back. It wraps the cause.
var ErrTransaction = errors.New("import transaction failed")

// Importer applies backups through a domain.Store.
type Importer struct {
	store    domain.Store
	resolver *Resolver
	dedup    Dedup
	logger   logrus.FieldLogger
	now      func() time.Time
}

// Option customises an Importer.
type Option func(*Importer)

// WithResolver replaces the default global-scope resolver.
func WithResolver(resolver *Resolver) Option {
	return func(i *Importer) { i.resolver = resolver }
}

// WithDedup replaces the default dedup rules.
func WithDedup(dedup Dedup) Option {
	return func(i *Importer) { i.dedup = dedup }
}

// WithClock overrides the time source used for created timestamps and slugs.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// New constructs an Importer.
func New(store domain.Store, logger logrus.FieldLogger, opts ...Option) *Importer {
	i := &Importer{
		store:    store,
		resolver: NewResolver(ScopeGlobal),
		dedup:    NewDedup(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import applies b for ownerID and returns the committed summary. On any failure the
// whole unit of work is rolled back and no summary is returned.
func (i *Importer) Import(ctx context.Context, ownerID string, b *backup.Backup) (domain.ImportSummary, error) {
	var summary domain.ImportSummary
	err := i.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		summary, err = i.apply(ctx, tx, ownerID, b)
		return err
	})
	if err != nil {
		return domain.ImportSummary{}, wrapTx(err)
	}

	i.logger.WithFields(summaryFields(ownerID, summary)).Info("backup imported")
	return summary, nil
}

// Plan runs the import algorithm in a unit of work that is always rolled back and
// returns what Import would report against the current data.
func (i *Importer) Plan(ctx context.Context, ownerID string, b *backup.Backup) (domain.ImportSummary, error) {
	var summary domain.ImportSummary
	err := i.store.Rehearse(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		summary, err = i.apply(ctx, tx, ownerID, b)
		return err
	})
	if err != nil {
		return domain.ImportSummary{}, wrapTx(err)
	}
	return summary, nil
}

func wrapTx(err error) error {
	if errors.Is(err, ErrTransaction) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransaction, err)
}

type run struct {
	importID string
	ownerID  string
	backup   *backup.Backup
	tx       domain.Tx
	refs     *lookup
	summary  domain.ImportSummary
	slugs    map[string]int
	logger   logrus.FieldLogger
}

func (i *Importer) apply(ctx context.Context, tx domain.Tx, ownerID string, b *backup.Backup) (domain.ImportSummary, error) {
	r := &run{
		importID: uuid.NewString(),
		ownerID:  ownerID,
		backup:   b,
		tx:       tx,
		summary:  domain.NewImportSummary(),
		slugs:    make(map[string]int),
	}
	r.logger = i.logger.WithFields(logrus.Fields{"owner_id": ownerID, "import_id": r.importID})

	if err := tx.LockOwner(ctx, ownerID); err != nil {
		return domain.ImportSummary{}, fmt.Errorf("lock owner: %w", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"customExercises", i.importExercises},
		{"workoutTemplates", i.importTemplates},
		{"scheduledWorkouts", i.importScheduled},
		{"sessions", i.importSessions},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return domain.ImportSummary{}, err
		}
		if err := step.fn(ctx, r); err != nil {
			return domain.ImportSummary{}, err
		}
		// References resolve only once every backup exercise exists.
		if r.refs == nil {
			r.refs = i.resolver.session(tx, ownerID)
		}
	}

	if err := tx.AppendOutbox(ctx, domain.OutboxEvent{
		Type:        events.TypeBackupImported,
		AggregateID: r.importID,
		OwnerID:     ownerID,
		Payload: events.BackupImported{
			ImportID:             r.importID,
			UserID:               ownerID,
			SchemaVersion:        b.SchemaVersion,
			Sessions:             r.summary.Imported.Sessions,
			Exercises:            r.summary.Imported.Exercises,
			Templates:            r.summary.Imported.Templates,
			Scheduled:            r.summary.Imported.Scheduled,
			Skipped:              r.summary.Skipped,
			UnresolvedReferences: r.summary.UnresolvedReferences,
			OccurredAt:           i.now(),
		},
	}); err != nil {
		return domain.ImportSummary{}, fmt.Errorf("record outbox event: %w", err)
	}

	return r.summary, nil
}

func (i *Importer) importExercises(ctx context.Context, r *run) error {
	for idx, in := range r.backup.CustomExercises {
		exists, err := i.dedup.ExerciseExists(ctx, r.tx, r.ownerID, in.Name)
		if err != nil {
			return stepErr("customExercises", idx, err)
		}
		if exists {
			r.summary.Skipped++
			continue
		}

		now := i.now()
		exercise := &domain.Exercise{
			ID:               uuid.NewString(),
			Name:             in.Name,
			Slug:             r.uniqueSlug(domain.ExerciseSlug(in.Name, r.ownerID, now)),
			Type:             in.Type,
			MovementCategory: in.MovementCategory,
			PrimaryMuscle:    in.PrimaryMuscle,
			SecondaryMuscles: in.SecondaryMuscles,
			DefaultUnit:      in.DefaultUnit,
			DefaultReps:      in.DefaultReps,
			DemoVideoURL:     in.DemoVideoURL,
			Description:      in.Description,
			CreatedBy:        r.ownerID,
			CreatedAt:        now,
		}
		if err := r.tx.CreateExercise(ctx, exercise); err != nil {
			return stepErr("customExercises", idx, err)
		}
		r.summary.RecordImported(domain.EntityExercise)
	}
	return nil
}

func (i *Importer) importTemplates(ctx context.Context, r *run) error {
	for idx, in := range r.backup.WorkoutTemplates {
		exists, err := i.dedup.TemplateExists(ctx, r.tx, r.ownerID, in.Name)
		if err != nil {
			return stepErr("workoutTemplates", idx, err)
		}
		if exists {
			r.summary.Skipped++
			continue
		}

		rows := make([]domain.TemplateExercise, 0, len(in.Exercises))
		for _, row := range in.Exercises {
			exercise, err := r.refs.Resolve(ctx, row.ExerciseName)
			if err != nil {
				return stepErr("workoutTemplates", idx, err)
			}
			if exercise == nil {
				r.unresolved("workoutTemplates", idx, row.ExerciseName)
				continue
			}
			rows = append(rows, domain.TemplateExercise{
				ExerciseID:       exercise.ID,
				OrderIndex:       row.OrderIndex,
				Sets:             row.Sets,
				Reps:             row.Reps,
				TargetWeight:     row.TargetWeight,
				TargetWeightUnit: row.TargetWeightUnit,
				RestSeconds:      row.RestSeconds,
				TempoNotes:       row.TempoNotes,
			})
		}

		template := &domain.WorkoutTemplate{
			ID:          uuid.NewString(),
			OwnerID:     r.ownerID,
			Name:        in.Name,
			Description: in.Description,
			Exercises:   rows,
			CreatedAt:   i.now(),
		}
		if err := r.tx.CreateTemplate(ctx, template); err != nil {
			return stepErr("workoutTemplates", idx, err)
		}
		r.summary.RecordImported(domain.EntityTemplate)
	}
	return nil
}

func (i *Importer) importScheduled(ctx context.Context, r *run) error {
	for idx, in := range r.backup.ScheduledWorkouts {
		exists, err := i.dedup.ScheduledExists(ctx, r.tx, r.ownerID, in.ScheduledDate)
		if err != nil {
			return stepErr("scheduledWorkouts", idx, err)
		}
		if exists {
			r.summary.Skipped++
			continue
		}

		scheduled := &domain.ScheduledWorkout{
			ID:            uuid.NewString(),
			OwnerID:       r.ownerID,
			ScheduledDate: domain.CalendarDay(in.ScheduledDate),
			Title:         in.Title,
			Notes:         in.Notes,
			CreatedAt:     i.now(),
		}
		if err := r.tx.CreateScheduledWorkout(ctx, scheduled); err != nil {
			return stepErr("scheduledWorkouts", idx, err)
		}
		r.summary.RecordImported(domain.EntityScheduled)
	}
	return nil
}

func (i *Importer) importSessions(ctx context.Context, r *run) error {
	for idx, in := range r.backup.Sessions {
		exists, err := i.dedup.SessionExists(ctx, r.tx, r.ownerID, in.StartedAt)
		if err != nil {
			return stepErr("sessions", idx, err)
		}
		if exists {
			r.summary.Skipped++
			continue
		}

		exercises := make([]domain.SessionExercise, 0, len(in.Exercises))
		for _, se := range in.Exercises {
			exercise, err := r.refs.Resolve(ctx, se.ExerciseName)
			if err != nil {
				return stepErr("sessions", idx, err)
			}
			if exercise == nil {
				r.unresolved("sessions", idx, se.ExerciseName)
				continue
			}
			sets := make([]domain.WorkoutSet, 0, len(se.Sets))
			for _, set := range se.Sets {
				sets = append(sets, domain.WorkoutSet{
					SetNumber:   set.SetNumber,
					Weight:      set.Weight,
					WeightUnit:  set.WeightUnit,
					Reps:        set.Reps,
					RPE:         set.RPE,
					IsWarmup:    set.IsWarmup,
					CompletedAt: set.CompletedAt,
				})
			}
			exercises = append(exercises, domain.SessionExercise{
				ExerciseID:   exercise.ID,
				ExerciseName: se.ExerciseName,
				OrderIndex:   se.OrderIndex,
				RestSeconds:  se.RestSeconds,
				Sets:         sets,
			})
		}

		session := &domain.WorkoutSession{
			ID:          uuid.NewString(),
			OwnerID:     r.ownerID,
			Name:        in.Name,
			Status:      domain.SessionStatusCompleted,
			StartedAt:   in.StartedAt,
			CompletedAt: in.CompletedAt,
			Notes:       in.Notes,
			Exercises:   exercises,
			CreatedAt:   i.now(),
		}
		if err := r.tx.CreateSession(ctx, session); err != nil {
			return stepErr("sessions", idx, err)
		}
		r.summary.RecordImported(domain.EntitySession)
	}
	return nil
}

func (r *run) unresolved(step string, idx int, name string) {
	r.summary.UnresolvedReferences++
	r.logger.WithFields(logrus.Fields{
		"step":          step,
		"index":         idx,
		"exercise_name": name,
	}).Debug("dropping row with unresolved exercise reference")
}

// uniqueSlug suffixes slugs that collide within one import.
func (r *run) uniqueSlug(slug string) string {
	r.slugs[slug]++
	if n := r.slugs[slug]; n > 1 {
		return slug + "-" + strconv.Itoa(n)
	}
	return slug
}

func stepErr(step string, idx int, err error) error {
	return fmt.Errorf("%s[%d]: %w", step, idx, err)
}

func summaryFields(ownerID string, s domain.ImportSummary) logrus.Fields {
	return logrus.Fields{
		"owner_id":   ownerID,
		"sessions":   s.Imported.Sessions,
		"exercises":  s.Imported.Exercises,
		"templates":  s.Imported.Templates,
		"scheduled":  s.Imported.Scheduled,
		"skipped":    s.Skipped,
		"unresolved": s.UnresolvedReferences,
	}
}
