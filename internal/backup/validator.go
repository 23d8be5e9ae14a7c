package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"example.com/backuprestore/internal/domain"
)

var supportedVersions = []string{"1.0"}

// SupportedVersions returns the schema versions this build accepts.
func SupportedVersions() []string {
	return slices.Clone(supportedVersions)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Parse validates raw against the backup schema and returns the decoded document with
// defaults applied. The version gate runs before any entity is inspected.
func Parse(raw []byte) (*Backup, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformed)
	}

	if err := checkVersion(raw); err != nil {
		return nil, err
	}

	var doc backupDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			verr := &ValidationError{}
			verr.add(typeErr.Field, fmt.Sprintf("expected %s, got %s", kindOf(typeErr.Type.String()), typeErr.Value))
			return nil, verr
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	verr := &ValidationError{}
	b := convert(doc, verr)
	if !verr.empty() {
		return nil, verr
	}
	return b, nil
}

func checkVersion(raw []byte) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return fmt.Errorf("%w: backup must be a JSON object", ErrMalformed)
	}

	field, ok := envelope["schemaVersion"]
	if !ok {
		return &ValidationError{Fields: []FieldError{{Path: "schemaVersion", Message: "required"}}}
	}
	var version string
	if err := json.Unmarshal(field, &version); err != nil {
		return &ValidationError{Fields: []FieldError{{Path: "schemaVersion", Message: "must be a string"}}}
	}
	if !slices.Contains(supportedVersions, version) {
		return &VersionError{Version: version, Supported: SupportedVersions()}
	}
	return nil
}

func convert(doc backupDoc, verr *ValidationError) *Backup {
	b := &Backup{
		SchemaVersion:     *doc.SchemaVersion,
		ExportedAt:        doc.ExportedAt,
		CustomExercises:   make([]CustomExercise, 0, len(doc.CustomExercises)),
		WorkoutTemplates:  make([]Template, 0, len(doc.WorkoutTemplates)),
		ScheduledWorkouts: make([]ScheduledWorkout, 0, len(doc.ScheduledWorkouts)),
		Sessions:          make([]Session, 0, len(doc.Sessions)),
	}
	if doc.Profile != nil {
		b.Profile = &Profile{
			DisplayName:    doc.Profile.DisplayName,
			UnitPreference: doc.Profile.UnitPreference,
			CreatedAt:      doc.Profile.CreatedAt,
		}
	}

	for i, ex := range doc.CustomExercises {
		path := fmt.Sprintf("customExercises[%d]", i)
		b.CustomExercises = append(b.CustomExercises, CustomExercise{
			Name:             requireName(verr, path+".name", ex.Name),
			Type:             stringOr(ex.Type, defaultExerciseType),
			MovementCategory: stringOr(ex.MovementCategory, defaultMovementCategory),
			PrimaryMuscle:    stringOr(ex.PrimaryMuscle, ""),
			SecondaryMuscles: nonNil(ex.SecondaryMuscles),
			DefaultUnit:      ex.DefaultUnit,
			DefaultReps:      ex.DefaultReps,
			DemoVideoURL:     ex.DemoVideoURL,
			Description:      ex.Description,
		})
	}

	for i, tpl := range doc.WorkoutTemplates {
		path := fmt.Sprintf("workoutTemplates[%d]", i)
		out := Template{
			Name:        requireName(verr, path+".name", tpl.Name),
			Description: tpl.Description,
			Exercises:   make([]TemplateExercise, 0, len(tpl.Exercises)),
		}
		for j, row := range tpl.Exercises {
			rowPath := fmt.Sprintf("%s.exercises[%d]", path, j)
			sets := defaultTemplateSets
			if row.Sets != nil {
				sets = *row.Sets
				if sets <= 0 {
					verr.add(rowPath+".sets", "must be greater than 0")
				}
			}
			out.Exercises = append(out.Exercises, TemplateExercise{
				ExerciseName:     requireName(verr, rowPath+".exerciseName", row.ExerciseName),
				OrderIndex:       requireOrderIndex(verr, rowPath+".orderIndex", row.OrderIndex),
				Sets:             sets,
				Reps:             stringOr(row.Reps, defaultTemplateReps),
				TargetWeight:     row.TargetWeight,
				TargetWeightUnit: row.TargetWeightUnit,
				RestSeconds:      row.RestSeconds,
				TempoNotes:       row.TempoNotes,
			})
		}
		b.WorkoutTemplates = append(b.WorkoutTemplates, out)
	}

	for i, sw := range doc.ScheduledWorkouts {
		path := fmt.Sprintf("scheduledWorkouts[%d].scheduledDate", i)
		var day time.Time
		if sw.ScheduledDate == nil {
			verr.add(path, "required")
		} else if ts, ok := parseTimestamp(*sw.ScheduledDate); ok {
			day = domain.CalendarDay(ts)
		} else {
			verr.add(path, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
		}
		b.ScheduledWorkouts = append(b.ScheduledWorkouts, ScheduledWorkout{ScheduledDate: day, Title: sw.Title, Notes: sw.Notes})
	}

	for i, s := range doc.Sessions {
		path := fmt.Sprintf("sessions[%d]", i)
		out := Session{
			Name:        s.Name,
			CompletedAt: optionalTimestamp(verr, path+".completedAt", s.CompletedAt),
			Notes:       s.Notes,
			Exercises:   make([]SessionExercise, 0, len(s.Exercises)),
		}
		if s.StartedAt == nil {
			verr.add(path+".startedAt", "required")
		} else if ts, ok := parseTimestamp(*s.StartedAt); ok {
			out.StartedAt = ts
		} else {
			verr.add(path+".startedAt", "must be an RFC 3339 timestamp")
		}

		for j, se := range s.Exercises {
			exPath := fmt.Sprintf("%s.exercises[%d]", path, j)
			exOut := SessionExercise{
				ExerciseName: requireName(verr, exPath+".exerciseName", se.ExerciseName),
				OrderIndex:   requireOrderIndex(verr, exPath+".orderIndex", se.OrderIndex),
				RestSeconds:  se.RestSeconds,
				Sets:         make([]Set, 0, len(se.Sets)),
			}
			for k, set := range se.Sets {
				setPath := fmt.Sprintf("%s.sets[%d]", exPath, k)
				setNumber := 0
				switch {
				case set.SetNumber == nil:
					verr.add(setPath+".setNumber", "required")
				case *set.SetNumber <= 0:
					verr.add(setPath+".setNumber", "must be greater than 0")
				default:
					setNumber = *set.SetNumber
				}
				exOut.Sets = append(exOut.Sets, Set{
					SetNumber:   setNumber,
					Weight:      set.Weight,
					WeightUnit:  set.WeightUnit,
					Reps:        set.Reps,
					RPE:         set.RPE,
					IsWarmup:    set.IsWarmup != nil && *set.IsWarmup,
					CompletedAt: optionalTimestamp(verr, setPath+".completedAt", set.CompletedAt),
				})
			}
			out.Exercises = append(out.Exercises, exOut)
		}
		b.Sessions = append(b.Sessions, out)
	}

	return b
}

func requireName(verr *ValidationError, path string, value *string) string {
	if value == nil {
		verr.add(path, "required")
		return ""
	}
	if *value == "" {
		verr.add(path, "must not be empty")
	}
	return *value
}

func requireOrderIndex(verr *ValidationError, path string, value *int) int {
	if value == nil {
		verr.add(path, "required")
		return 0
	}
	if *value < 0 {
		verr.add(path, "must be 0 or greater")
	}
	return *value
}

func optionalTimestamp(verr *ValidationError, path string, value *string) *time.Time {
	if value == nil {
		return nil
	}
	ts, ok := parseTimestamp(*value)
	if !ok {
		verr.add(path, "must be an RFC 3339 timestamp")
		return nil
	}
	return &ts
}

// parseTimestamp accepts RFC 3339 timestamps, zone-less timestamps (read as UTC) and
// bare dates. The result is always UTC.
func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func stringOr(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func kindOf(goType string) string {
	switch {
	case strings.HasPrefix(goType, "[]"):
		return "array"
	case strings.Contains(goType, "int"):
		return "integer"
	case strings.Contains(goType, "float"):
		return "number"
	case strings.Contains(goType, "bool"):
		return "boolean"
	case strings.Contains(goType, "string"):
		return "string"
	default:
		return "object"
	}
}
