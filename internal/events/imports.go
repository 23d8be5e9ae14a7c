// Package events defines the payloads recorded in the outbox by the backup importer.
package events

import "time"

const (
	TypeBackupImported        = "backup.imported"
	TypeImportJobStateChanged = "import_job.state_changed"
	AggregateTypeBackupImport = "backup_import"
	AggregateTypeImportJob    = "import_job"
)

// BackupImported is emitted when an import transaction commits.
type BackupImported struct {
	ImportID             string    `json:"import_id"`
	UserID               string    `json:"user_id"`
	SchemaVersion        string    `json:"schema_version"`
	Sessions             int       `json:"sessions"`
	Exercises            int       `json:"exercises"`
	Templates            int       `json:"templates"`
	Scheduled            int       `json:"scheduled"`
	Skipped              int       `json:"skipped"`
	UnresolvedReferences int       `json:"unresolved_references"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// ImportJobStateChanged tracks job transitions (pending, processing, completed, failed).
type ImportJobStateChanged struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
	Reason     string    `json:"reason,omitempty"`
}
