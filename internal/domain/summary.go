package domain

// EntityType names the top-level entity kinds a backup carries.
type EntityType string

const (
	EntityExercise  EntityType = "exercises"
	EntityTemplate  EntityType = "templates"
	EntityScheduled EntityType = "scheduled"
	EntitySession   EntityType = "sessions"
)

// ImportedCounts holds the number of records created per entity type.
type ImportedCounts struct {
	Sessions  int `json:"sessions"`
	Exercises int `json:"exercises"`
	Templates int `json:"templates"`
	Scheduled int `json:"scheduled"`
}

// ImportSummary is the outcome of one import attempt.
type ImportSummary struct {
	Imported             ImportedCounts `json:"imported"`
	Skipped              int            `json:"skipped"`
	Errors               []string       `json:"errors"`
	UnresolvedReferences int            `json:"unresolvedReferences"`
}

// NewImportSummary returns a zeroed summary with a non-nil error list.
func NewImportSummary() ImportSummary {
	return ImportSummary{Errors: []string{}}
}

// RecordImported increments the counter matching the entity type.
func (s *ImportSummary) RecordImported(entity EntityType) {
	switch entity {
	case EntityExercise:
		s.Imported.Exercises++
	case EntityTemplate:
		s.Imported.Templates++
	case EntityScheduled:
		s.Imported.Scheduled++
	case EntitySession:
		s.Imported.Sessions++
	}
}

// TotalImported sums created records over all entity types.
func (s ImportSummary) TotalImported() int {
	return s.Imported.Sessions + s.Imported.Exercises + s.Imported.Templates + s.Imported.Scheduled
}
