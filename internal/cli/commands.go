package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"example.com/backuprestore/internal/backup"
	"example.com/backuprestore/internal/backupfile"
	"example.com/backuprestore/internal/domain"
	"example.com/backuprestore/internal/importer"
	"example.com/backuprestore/internal/jobs"
	"example.com/backuprestore/internal/outbox"
)

const defaultMaxBytes = 10 << 20

// ValidateReport is the validate command output.
type ValidateReport struct {
	File          string              `json:"file"`
	Compression   string              `json:"compression"`
	Bytes         int                 `json:"bytes"`
	Valid         bool                `json:"valid"`
	SchemaVersion string              `json:"schemaVersion,omitempty"`
	Exercises     int                 `json:"exercises"`
	Templates     int                 `json:"templates"`
	Scheduled     int                 `json:"scheduled"`
	Sessions      int                 `json:"sessions"`
	Errors        []backup.FieldError `json:"errors,omitempty"`
	Problem       string              `json:"problem,omitempty"`
}

func newValidateCommand(opts *options) *cobra.Command {
	var maxBytes int64
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a backup parses and uses a supported schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, kind, err := backupfile.ReadFile(args[0], maxBytes)
			if err != nil {
				return err
			}

			report := ValidateReport{File: args[0], Compression: string(kind), Bytes: len(raw)}
			b, parseErr := backup.Parse(raw)
			if parseErr == nil {
				report.Valid = true
				report.SchemaVersion = b.SchemaVersion
				report.Exercises, report.Templates, report.Scheduled, report.Sessions = b.Counts()
			} else {
				var verr *backup.ValidationError
				if errors.As(parseErr, &verr) {
					report.Errors = verr.Fields
				} else {
					report.Problem = parseErr.Error()
				}
			}

			if err := render(opts.out, opts.output, report, func(w io.Writer) { printValidateReport(w, report) }); err != nil {
				return err
			}
			if !report.Valid {
				return fmt.Errorf("%s is not a valid backup", args[0])
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", defaultMaxBytes, "largest decompressed backup accepted")
	return cmd
}

func printValidateReport(w io.Writer, r ValidateReport) {
	if !r.Valid {
		if len(r.Errors) > 0 {
			printFieldErrors(w, &backup.ValidationError{Fields: r.Errors})
			return
		}
		fmt.Fprintln(w, bad(r.Problem))
		return
	}
	fmt.Fprintf(w, "%s %s (schema %s, %d bytes, %s)\n", good("valid"), r.File, r.SchemaVersion, r.Bytes, r.Compression)
	fmt.Fprintf(w, "  exercises: %d  templates: %d  scheduled: %d  sessions: %d\n", r.Exercises, r.Templates, r.Scheduled, r.Sessions)
}

// applyFunc is (*importer.Importer).Import or (*importer.Importer).Plan.
type applyFunc func(*importer.Importer, context.Context, string, *backup.Backup) (domain.ImportSummary, error)

func newApplyCommand(opts *options, use, short, title string, apply applyFunc) *cobra.Command {
	var (
		ownerID  string
		maxBytes int64
	)
	cmd := &cobra.Command{
		Use:   use + " FILE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _, err := backupfile.ReadFile(args[0], maxBytes)
			if err != nil {
				return err
			}
			b, err := backup.Parse(raw)
			if err != nil {
				var verr *backup.ValidationError
				if errors.As(err, &verr) && opts.output == formatText {
					printFieldErrors(opts.errOut, verr)
				}
				return err
			}

			env, err := opts.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.stores.Close()

			scope, err := importer.ParseScope(env.cfg.Import.ResolverScope)
			if err != nil {
				return err
			}
			imp := importer.New(env.stores.Training, env.logger, importer.WithResolver(importer.NewResolver(scope)))

			summary, err := apply(imp, cmd.Context(), ownerID, b)
			if err != nil {
				return err
			}
			return render(opts.out, opts.output, summary, func(w io.Writer) { printSummary(w, title, summary) })
		},
	}
	cmd.Flags().StringVar(&ownerID, "user", "", "id of the user the backup belongs to")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", defaultMaxBytes, "largest decompressed backup accepted")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPlanCommand(opts *options) *cobra.Command {
	return newApplyCommand(opts, "plan", "Show what importing a backup would create, without saving anything", "plan", (*importer.Importer).Plan)
}

func newImportCommand(opts *options) *cobra.Command {
	return newApplyCommand(opts, "import", "Import a backup for a user in a single transaction", "imported", (*importer.Importer).Import)
}

func newJobCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect background import jobs",
	}

	var ownerID string
	get := &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show the status of an import job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.stores.Close()

			job, err := env.stores.Jobs.Get(cmd.Context(), ownerID, args[0])
			if err != nil {
				return err
			}
			return render(opts.out, opts.output, job, func(w io.Writer) { printJob(w, job) })
		},
	}
	get.Flags().StringVar(&ownerID, "user", "", "id of the user that owns the job")
	_ = get.MarkFlagRequired("user")

	cmd.AddCommand(get)
	return cmd
}

// ReapReport is the reap command output.
type ReapReport struct {
	OlderThan string `json:"olderThan"`
	Failed    int    `json:"failed"`
}

func newReapCommand(opts *options) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail import jobs stuck in processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.stores.Close()

			if olderThan <= 0 {
				olderThan = env.cfg.Import.StaleJobAfter
			}
			n, err := jobs.NewReaper(env.stores.Jobs, olderThan, env.logger).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			report := ReapReport{OlderThan: olderThan.String(), Failed: n}
			return render(opts.out, opts.output, report, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d job(s) stuck for more than %s\n", warn("failed"), n, olderThan)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "staleness threshold (default IMPORT_STALE_JOB_AFTER)")
	return cmd
}

func newDLQCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay undeliverable import events",
	}

	var limit, maxAttempts int
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered events back into the outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.stores.Close()

			if env.stores.Pool == nil {
				return errors.New("dlq replay needs STORE_DRIVER=postgres")
			}
			result, err := outbox.NewReplayer(env.stores.Pool, maxAttempts).RunOnce(cmd.Context(), limit)
			if err != nil {
				return err
			}
			env.logger.WithField("replayed", result.Replayed).
				WithField("quarantined", result.Quarantined).
				Debug("dlq replay finished")
			return render(opts.out, opts.output, result, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d  %s %d  %s %d\n",
					good("replayed"), result.Replayed, bad("quarantined"), result.Quarantined, warn("backlog"), result.Backlog)
			})
		},
	}
	replay.Flags().IntVar(&limit, "limit", outbox.DefaultReplayBatch, "most entries to handle in one run")
	replay.Flags().IntVar(&maxAttempts, "max-attempts", outbox.DefaultMaxAttempts, "delivery attempts before an entry is quarantined")

	cmd.AddCommand(replay)
	return cmd
}
