// Package backup parses and validates uploaded training backups.
package backup

import "time"

// Backup is a validated backup document with defaults applied.
type Backup struct {
	SchemaVersion     string
	ExportedAt        *string
	Profile           *Profile
	CustomExercises   []CustomExercise
	WorkoutTemplates  []Template
	ScheduledWorkouts []ScheduledWorkout
	Sessions          []Session
}

// Profile carries user preferences. It is validated but never applied.
type Profile struct {
	DisplayName    *string
	UnitPreference *string
	CreatedAt      *string
}

type CustomExercise struct {
	Name             string
	Type             string
	MovementCategory string
	PrimaryMuscle    string
	SecondaryMuscles []string
	DefaultUnit      *string
	DefaultReps      *int
	DemoVideoURL     *string
	Description      *string
}

type Template struct {
	Name        string
	Description *string
	Exercises   []TemplateExercise
}

type TemplateExercise struct {
	ExerciseName     string
	OrderIndex       int
	Sets             int
	Reps             string
	TargetWeight     *float64
	TargetWeightUnit *string
	RestSeconds      *int
	TempoNotes       *string
}

type ScheduledWorkout struct {
	// ScheduledDate is normalised to UTC midnight.
	ScheduledDate time.Time
	Title         *string
	Notes         *string
}

type Session struct {
	Name        *string
	StartedAt   time.Time
	CompletedAt *time.Time
	Notes       *string
	Exercises   []SessionExercise
}

type SessionExercise struct {
	ExerciseName string
	OrderIndex   int
	RestSeconds  *int
	Sets         []Set
}

type Set struct {
	SetNumber   int
	Weight      *float64
	WeightUnit  *string
	Reps        *int
	RPE         *float64
	IsWarmup    bool
	CompletedAt *time.Time
}

// Counts returns the number of top-level records per collection.
func (b *Backup) Counts() (exercises, templates, scheduled, sessions int) {
	return len(b.CustomExercises), len(b.WorkoutTemplates), len(b.ScheduledWorkouts), len(b.Sessions)
}

const (
	defaultExerciseType     = "compound"
	defaultMovementCategory = "other"
	defaultTemplateSets     = 3
	defaultTemplateReps     = "8-12"
)

// wire shapes; pointers distinguish absent from zero.

type backupDoc struct {
	SchemaVersion     *string               `json:"schemaVersion"`
	ExportedAt        *string               `json:"exportedAt"`
	Profile           *profileDoc           `json:"profile"`
	CustomExercises   []customExerciseDoc   `json:"customExercises"`
	WorkoutTemplates  []templateDoc         `json:"workoutTemplates"`
	ScheduledWorkouts []scheduledWorkoutDoc `json:"scheduledWorkouts"`
	Sessions          []sessionDoc          `json:"sessions"`
}

type profileDoc struct {
	DisplayName    *string `json:"displayName"`
	UnitPreference *string `json:"unitPreference"`
	CreatedAt      *string `json:"createdAt"`
}

type customExerciseDoc struct {
	Name             *string  `json:"name"`
	Type             *string  `json:"type"`
	MovementCategory *string  `json:"movementCategory"`
	PrimaryMuscle    *string  `json:"primaryMuscle"`
	SecondaryMuscles []string `json:"secondaryMuscles"`
	DefaultUnit      *string  `json:"defaultUnit"`
	DefaultReps      *int     `json:"defaultReps"`
	DemoVideoURL     *string  `json:"demoVideoUrl"`
	Description      *string  `json:"description"`
}

type templateDoc struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Exercises   []templateExerciseDoc `json:"exercises"`
}

type templateExerciseDoc struct {
	ExerciseName     *string  `json:"exerciseName"`
	OrderIndex       *int     `json:"orderIndex"`
	Sets             *int     `json:"sets"`
	Reps             *string  `json:"reps"`
	TargetWeight     *float64 `json:"targetWeight"`
	TargetWeightUnit *string  `json:"targetWeightUnit"`
	RestSeconds      *int     `json:"restSeconds"`
	TempoNotes       *string  `json:"tempoNotes"`
}

type scheduledWorkoutDoc struct {
	ScheduledDate *string `json:"scheduledDate"`
	Title         *string `json:"title"`
	Notes         *string `json:"notes"`
}

type sessionDoc struct {
	Name        *string              `json:"name"`
	StartedAt   *string              `json:"startedAt"`
	CompletedAt *string              `json:"completedAt"`
	Notes       *string              `json:"notes"`
	Exercises   []sessionExerciseDoc `json:"exercises"`
}

type sessionExerciseDoc struct {
	ExerciseName *string  `json:"exerciseName"`
	OrderIndex   *int     `json:"orderIndex"`
	RestSeconds  *int     `json:"restSeconds"`
	Sets         []setDoc `json:"sets"`
}

type setDoc struct {
	SetNumber   *int     `json:"setNumber"`
	Weight      *float64 `json:"weight"`
	WeightUnit  *string  `json:"weightUnit"`
	Reps        *int     `json:"reps"`
	RPE         *float64 `json:"rpe"`
	IsWarmup    *bool    `json:"isWarmup"`
	CompletedAt *string  `json:"completedAt"`
}
