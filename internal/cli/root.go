// Package cli implements backupctl, the operator tool for validating, planning and
// applying training backups outside the HTTP service.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/backuprestore/internal/bootstrap"
	"example.com/backuprestore/internal/config"
	"example.com/backuprestore/internal/logging"
)

type options struct {
	output  string
	noColor bool
	verbose bool

	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the backupctl command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &options{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "backupctl",
		Short: "Validate, plan and apply training backups",
		Long: `backupctl works directly against the configured store (STORE_DRIVER, POSTGRES_URL, ...).

Examples:
  # Check a backup without touching the database
  backupctl validate export.json.gz

  # Show what an import would create for a user
  backupctl plan export.json --user 7f6c0d2e --output yaml

  # Fail imports stuck in processing
  backupctl reap`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case formatText, formatJSON, formatYAML:
			default:
				return fmt.Errorf("unknown output format %q (text, json, yaml)", opts.output)
			}
			if opts.noColor {
				color.NoColor = true
			}
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatText, "output format (text, json, yaml)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable color output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newValidateCommand(opts),
		newPlanCommand(opts),
		newImportCommand(opts),
		newJobCommand(opts),
		newReapCommand(opts),
		newDLQCommand(opts),
	)
	return root
}

// Execute runs backupctl with os.Args and exits non-zero on failure.
func Execute() {
	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

type env struct {
	cfg    config.Config
	stores *bootstrap.Stores
	logger *logrus.Logger
}

// openEnv loads configuration and connects to the configured store.
func (o *options) openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.verbose {
		level = "debug"
	}
	logger := logging.New(level, "text", o.errOut)

	stores, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, stores: stores, logger: logger}, nil
}
