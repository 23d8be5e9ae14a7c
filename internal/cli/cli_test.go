package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"example.com/backuprestore/internal/domain"
)

const sampleBackup = `{
	"schemaVersion": "1.0",
	"customExercises": [{"name": "Zercher Squat"}],
	"sessions": [{"startedAt": "2025-04-07T17:00:00Z", "exercises": [
		{"exerciseName": "Zercher Squat", "orderIndex": 0, "sets": [{"setNumber": 1, "reps": 5}]},
		{"exerciseName": "Unknown Lift", "orderIndex": 1}
	]}]
}`

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateText(t *testing.T) {
	out, _, err := run(t, "validate", writeFile(t, "backup.json", sampleBackup))
	require.NoError(t, err)
	require.Contains(t, out, "valid")
	require.Contains(t, out, "exercises: 1  templates: 0  scheduled: 0  sessions: 1")
}

func TestValidateGzipJSON(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleBackup))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeFile(t, "backup.json.gz", buf.String())

	out, _, err := run(t, "validate", path, "--output", "json")
	require.NoError(t, err)

	var report ValidateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.True(t, report.Valid)
	require.Equal(t, "gzip", report.Compression)
	require.Equal(t, "1.0", report.SchemaVersion)
	require.Equal(t, 1, report.Sessions)
}

func TestValidateReportsFieldErrors(t *testing.T) {
	out, _, err := run(t, "validate", writeFile(t, "bad.json", `{"schemaVersion":"1.0","sessions":[{}]}`), "-o", "json")
	require.Error(t, err)

	var report ValidateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.False(t, report.Valid)
	require.Equal(t, "sessions[0].startedAt", report.Errors[0].Path)
}

func TestValidateReportsUnsupportedVersion(t *testing.T) {
	out, _, err := run(t, "validate", writeFile(t, "old.json", `{"schemaVersion":"0.9"}`))
	require.Error(t, err)
	require.Contains(t, out, `"0.9"`)
}

func TestPlanYAML(t *testing.T) {
	out, _, err := run(t, "plan", writeFile(t, "backup.json", sampleBackup), "--user", "user-1", "-o", "yaml")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	imported := doc["imported"].(map[string]any)
	require.Equal(t, 1, imported["sessions"])
	require.Equal(t, 1, imported["exercises"])
	require.Equal(t, 1, doc["unresolvedReferences"])
}

func TestImportJSON(t *testing.T) {
	out, _, err := run(t, "import", writeFile(t, "backup.json", sampleBackup), "--user", "user-1", "-o", "json")
	require.NoError(t, err)

	var summary domain.ImportSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, 1, summary.Imported.Sessions)
	require.Equal(t, 1, summary.UnresolvedReferences)
}

func TestImportText(t *testing.T) {
	out, _, err := run(t, "import", writeFile(t, "backup.json", sampleBackup), "--user", "user-1")
	require.NoError(t, err)
	require.Contains(t, out, "imported")
	require.Contains(t, out, "unresolved: 1")
}

func TestImportMalformedPrintsFieldErrors(t *testing.T) {
	_, errOut, err := run(t, "import", writeFile(t, "bad.json", `{"schemaVersion":"1.0","sessions":[{}]}`), "--user", "user-1")
	require.Error(t, err)
	require.Contains(t, errOut, "sessions[0].startedAt: required")
}

func TestImportRequiresUser(t *testing.T) {
	_, _, err := run(t, "import", writeFile(t, "backup.json", sampleBackup))
	require.ErrorContains(t, err, `"user" not set`)
}

func TestJobGetUnknown(t *testing.T) {
	_, _, err := run(t, "job", "get", "missing", "--user", "user-1")
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestReap(t *testing.T) {
	out, _, err := run(t, "reap", "--older-than", "45m", "-o", "json")
	require.NoError(t, err)

	var report ReapReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, "45m0s", report.OlderThan)
	require.Zero(t, report.Failed)
}

func TestDLQReplayNeedsPostgres(t *testing.T) {
	_, _, err := run(t, "dlq", "replay")
	require.ErrorContains(t, err, "STORE_DRIVER=postgres")
}

func TestUnknownOutputFormat(t *testing.T) {
	_, _, err := run(t, "validate", writeFile(t, "backup.json", sampleBackup), "-o", "xml")
	require.ErrorContains(t, err, "unknown output format")
}
