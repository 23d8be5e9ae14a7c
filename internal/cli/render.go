package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/domain"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	heading = color.New(color.Bold).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
	bad     = color.New(color.FgRed).SprintFunc()
)

// render writes v as JSON or YAML, or calls text for the human format. YAML goes
// through JSON first so both formats share field names.
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

func printSummary(w io.Writer, title string, s domain.ImportSummary) {
	fmt.Fprintln(w, heading(title))
	fmt.Fprintf(w, "  sessions:   %s\n", good(s.Imported.Sessions))
	fmt.Fprintf(w, "  exercises:  %s\n", good(s.Imported.Exercises))
	fmt.Fprintf(w, "  templates:  %s\n", good(s.Imported.Templates))
	fmt.Fprintf(w, "  scheduled:  %s\n", good(s.Imported.Scheduled))
	fmt.Fprintf(w, "  skipped:    %s\n", warn(s.Skipped))
	fmt.Fprintf(w, "  unresolved: %s\n", warn(s.UnresolvedReferences))
	for _, msg := range s.Errors {
		fmt.Fprintf(w, "  %s %s\n", bad("error:"), msg)
	}
}

func printFieldErrors(w io.Writer, verr *backup.ValidationError) {
	fmt.Fprintln(w, bad("backup is malformed"))
	for _, f := range verr.Fields {
		fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Message)
	}
}

func printJob(w io.Writer, job *domain.ImportJob) {
	status := string(job.Status)
	switch job.Status {
	case domain.JobStatusCompleted:
		status = good(status)
	case domain.JobStatusFailed:
		status = bad(status)
	default:
		status = warn(status)
	}
	fmt.Fprintf(w, "%s %s\n", heading("job"), job.ID)
	fmt.Fprintf(w, "  status:  %s\n", status)
	fmt.Fprintf(w, "  created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  updated: %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05"))
	if job.Error != nil {
		fmt.Fprintf(w, "  error:   %s\n", *job.Error)
	}
	if job.Summary != nil {
		printSummary(w, "summary", *job.Summary)
	}
}
