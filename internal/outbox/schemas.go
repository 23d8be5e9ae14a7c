package outbox

import "example.com/backuprestore/internal/events"

const backupImportedSchema = `{
  "type": "object",
  "title": "BackupImported",
  "properties": {
    "import_id": {"type": "string"},
    "user_id": {"type": "string"},
    "schema_version": {"type": "string"},
    "sessions": {"type": "integer"},
    "exercises": {"type": "integer"},
    "templates": {"type": "integer"},
    "scheduled": {"type": "integer"},
    "skipped": {"type": "integer"},
    "unresolved_references": {"type": "integer"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["import_id", "user_id", "schema_version", "sessions", "exercises", "templates", "scheduled", "skipped", "unresolved_references", "occurred_at"],
  "additionalProperties": false
}`

const importJobStateChangedSchema = `{
  "type": "object",
  "title": "ImportJobStateChanged",
  "properties": {
    "job_id": {"type": "string"},
    "user_id": {"type": "string"},
    "state": {"type": "string", "enum": ["pending", "processing", "completed", "failed"]},
    "occurred_at": {"type": "string", "format": "date-time"},
    "reason": {"type": "string"}
  },
  "required": ["job_id", "user_id", "state", "occurred_at"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.TypeBackupImported:        backupImportedSchema,
	events.TypeImportJobStateChanged: importJobStateChangedSchema,
}
