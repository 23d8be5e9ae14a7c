// Package postgres provides pgx-backed implementations of the store ports.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/events"
)

// Store opens import units of work as Postgres transactions.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore constructs a Store. lockTimeout bounds how long a transaction waits on row or
// advisory locks; zero leaves the server default.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

// WithinTx implements domain.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	// No-op after Commit; releases the connection when fn fails or panics.
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rehearse implements domain.Store.
func (s *Store) Rehearse(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))
	return fn(ctx, &pgTx{tx: tx})
}

func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			tx.Rollback(ctx)
			return nil, err
		}
	}
	return tx, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockOwner(ctx context.Context, ownerID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "backup-import:"+ownerID)
	return err
}

func (t *pgTx) FindExercisesByName(ctx context.Context, name string) ([]domain.Exercise, error) {
	const query = `SELECT exercise_id::text, name, slug, type, movement_category, primary_muscle, secondary_muscles,
        default_unit, default_reps, demo_video_url, description, is_system, COALESCE(created_by, ''), is_deleted, created_at
        FROM exercises
        WHERE LOWER(name) = LOWER($1) AND NOT is_deleted
        ORDER BY created_at, exercise_id`

	rows, err := t.tx.Query(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Exercise
	for rows.Next() {
		var ex domain.Exercise
		if err := rows.Scan(&ex.ID, &ex.Name, &ex.Slug, &ex.Type, &ex.MovementCategory, &ex.PrimaryMuscle, &ex.SecondaryMuscles,
			&ex.DefaultUnit, &ex.DefaultReps, &ex.DemoVideoURL, &ex.Description, &ex.IsSystem, &ex.CreatedBy, &ex.IsDeleted, &ex.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (t *pgTx) OwnerHasExercise(ctx context.Context, ownerID, name string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM exercises
        WHERE created_by = $1 AND NOT is_system AND NOT is_deleted AND LOWER(name) = LOWER($2))`, ownerID, name)
}

func (t *pgTx) OwnerHasTemplate(ctx context.Context, ownerID, name string) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM workout_templates
        WHERE owner_id = $1 AND LOWER(name) = LOWER($2))`, ownerID, name)
}

func (t *pgTx) OwnerHasScheduledOn(ctx context.Context, ownerID string, day time.Time) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM scheduled_workouts
        WHERE owner_id = $1 AND scheduled_date = $2::date)`, ownerID, domain.CalendarDay(day).Format(time.DateOnly))
}

func (t *pgTx) OwnerHasSessionBetween(ctx context.Context, ownerID string, from, to time.Time) (bool, error) {
	return t.exists(ctx, `SELECT EXISTS (SELECT 1 FROM workout_sessions
        WHERE owner_id = $1 AND started_at BETWEEN $2 AND $3)`, ownerID, from, to)
}

func (t *pgTx) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func (t *pgTx) CreateExercise(ctx context.Context, ex *domain.Exercise) error {
	ensureID(&ex.ID)
	secondary := ex.SecondaryMuscles
	if secondary == nil {
		secondary = []string{}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO exercises (exercise_id, name, slug, type, movement_category, primary_muscle, secondary_muscles,
        default_unit, default_reps, demo_video_url, description, is_system, created_by, is_deleted, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		ex.ID, ex.Name, ex.Slug, ex.Type, ex.MovementCategory, ex.PrimaryMuscle, secondary,
		ex.DefaultUnit, ex.DefaultReps, ex.DemoVideoURL, ex.Description, ex.IsSystem, nullIfEmpty(ex.CreatedBy), ex.IsDeleted, ex.CreatedAt,
	)
	return err
}

func (t *pgTx) CreateTemplate(ctx context.Context, tpl *domain.WorkoutTemplate) error {
	ensureID(&tpl.ID)
	if _, err := t.tx.Exec(ctx, `INSERT INTO workout_templates (template_id, owner_id, name, description, created_at)
        VALUES ($1,$2,$3,$4,$5)`, tpl.ID, tpl.OwnerID, tpl.Name, tpl.Description, tpl.CreatedAt); err != nil {
		return err
	}
	if len(tpl.Exercises) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range tpl.Exercises {
		batch.Queue(`INSERT INTO template_exercises (template_id, exercise_id, order_index, sets, reps, target_weight, target_weight_unit, rest_seconds, tempo_notes)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			tpl.ID, row.ExerciseID, row.OrderIndex, row.Sets, row.Reps, row.TargetWeight, row.TargetWeightUnit, row.RestSeconds, row.TempoNotes)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) CreateScheduledWorkout(ctx context.Context, sw *domain.ScheduledWorkout) error {
	ensureID(&sw.ID)
	_, err := t.tx.Exec(ctx, `INSERT INTO scheduled_workouts (scheduled_workout_id, owner_id, scheduled_date, title, notes, created_at)
        VALUES ($1,$2,$3::date,$4,$5,$6)`,
		sw.ID, sw.OwnerID, domain.CalendarDay(sw.ScheduledDate).Format(time.DateOnly), sw.Title, sw.Notes, sw.CreatedAt)
	return err
}

func (t *pgTx) CreateSession(ctx context.Context, s *domain.WorkoutSession) error {
	ensureID(&s.ID)
	if _, err := t.tx.Exec(ctx, `INSERT INTO workout_sessions (session_id, owner_id, name, status, started_at, completed_at, notes, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.OwnerID, s.Name, s.Status, s.StartedAt, s.CompletedAt, s.Notes, s.CreatedAt); err != nil {
		return err
	}
	if len(s.Exercises) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, se := range s.Exercises {
		seID := uuid.NewString()
		batch.Queue(`INSERT INTO session_exercises (session_exercise_id, session_id, exercise_id, exercise_name, order_index, rest_seconds)
            VALUES ($1,$2,$3,$4,$5,$6)`, seID, s.ID, se.ExerciseID, se.ExerciseName, se.OrderIndex, se.RestSeconds)
		for _, set := range se.Sets {
			batch.Queue(`INSERT INTO workout_sets (session_exercise_id, set_number, weight, weight_unit, reps, rpe, is_warmup, completed_at)
                VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, seID, set.SetNumber, set.Weight, set.WeightUnit, set.Reps, set.RPE, set.IsWarmup, set.CompletedAt)
		}
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) AppendOutbox(ctx context.Context, event domain.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, event)
}

// insertOutbox records event in the outbox table using the caller's transaction.
func insertOutbox(ctx context.Context, tx pgx.Tx, event domain.OutboxEvent) error {
	meta, ok := eventCatalog[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO import_outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		event.OwnerID,
		meta.AggregateType,
		event.AggregateID,
		event.Type,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(event),
		body,
		meta.DedupeKeyFn(event),
	)
	return err
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	AggregateType  string
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.OutboxEvent) string
	DedupeKeyFn    func(domain.OutboxEvent) any
}

var eventCatalog = map[string]EventMetadata{
	events.TypeBackupImported: {
		AggregateType: events.AggregateTypeBackupImport,
		Topic:         "backup_imports",
		SchemaSubject: "backup_imports-value",
		PartitionKeyFn: func(e domain.OutboxEvent) string {
			return e.OwnerID
		},
		DedupeKeyFn: func(e domain.OutboxEvent) any {
			return fmt.Sprintf("%s:%s", e.AggregateID, e.Type)
		},
	},
	events.TypeImportJobStateChanged: {
		AggregateType: events.AggregateTypeImportJob,
		Topic:         "import_job_state_changed",
		SchemaSubject: "import_job_state_changed-value",
		PartitionKeyFn: func(e domain.OutboxEvent) string {
			return e.AggregateID
		},
		// A job passes through each state once at most.
		DedupeKeyFn: func(e domain.OutboxEvent) any {
			if p, ok := e.Payload.(events.ImportJobStateChanged); ok {
				return fmt.Sprintf("%s:%s:%s", e.AggregateID, e.Type, p.State)
			}
			return nil
		},
	},
}
