// Package domain defines the training entities, import summaries and job state machine
// shared by the backup reconciliation engine.
package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SessionStatusCompleted is the status assigned to every imported session.
const SessionStatusCompleted = "completed"

// Exercise is a system-provided or user-defined movement.
type Exercise struct {
	ID               string
	Name             string
	Slug             string
	Type             string
	MovementCategory string
	PrimaryMuscle    string
	SecondaryMuscles []string
	DefaultUnit      *string
	DefaultReps      *int
	DemoVideoURL     *string
	Description      *string
	IsSystem         bool
	CreatedBy        string
	IsDeleted        bool
	CreatedAt        time.Time
}

// OwnedBy reports whether the exercise is a custom exercise of ownerID.
func (e Exercise) OwnedBy(ownerID string) bool {
	return !e.IsSystem && e.CreatedBy == ownerID
}

// WorkoutTemplate is a reusable plan of exercises.
type WorkoutTemplate struct {
	ID          string
	OwnerID     string
	Name        string
	Description *string
	Exercises   []TemplateExercise
	CreatedAt   time.Time
}

// TemplateExercise is one resolved exercise row inside a template.
type TemplateExercise struct {
	ExerciseID       string
	OrderIndex       int
	Sets             int
	Reps             string
	TargetWeight     *float64
	TargetWeightUnit *string
	RestSeconds      *int
	TempoNotes       *string
}

// ScheduledWorkout is a calendar entry; only the date part of ScheduledDate is meaningful.
type ScheduledWorkout struct {
	ID            string
	OwnerID       string
	ScheduledDate time.Time
	Title         *string
	Notes         *string
	CreatedAt     time.Time
}

// WorkoutSession is a performed training session.
type WorkoutSession struct {
	ID          string
	OwnerID     string
	Name        *string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Notes       *string
	Exercises   []SessionExercise
	CreatedAt   time.Time
}

// SessionExercise is one resolved exercise performed in a session.
type SessionExercise struct {
	ExerciseID   string
	ExerciseName string
	OrderIndex   int
	RestSeconds  *int
	Sets         []WorkoutSet
}

// WorkoutSet is a single set of a session exercise.
type WorkoutSet struct {
	SetNumber   int
	Weight      *float64
	WeightUnit  *string
	Reps        *int
	RPE         *float64
	IsWarmup    bool
	CompletedAt *time.Time
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// ExerciseSlug builds a unique-enough slug for a custom exercise: name, owner suffix, creation millis.
func ExerciseSlug(name, ownerID string, at time.Time) string {
	base := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")
	suffix := ownerID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return base + "-" + suffix + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}

// CalendarDay truncates t to midnight UTC of its UTC calendar date.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
