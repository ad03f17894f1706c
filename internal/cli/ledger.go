package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/powerone/internal/store"
)

// LedgerOptions holds flags for the ledger command.
type LedgerOptions struct {
	*RootOptions
	Limit    int
	Entities bool
}

// LedgerResult is the JSON payload of the ledger command.
type LedgerResult struct {
	Scope    string         `json:"scope,omitempty"`
	Runs     []store.Run    `json:"runs,omitempty"`
	Entities []store.Entity `json:"entities,omitempty"`
}

// NewLedgerCommand creates the ledger command.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recorded runs and provisioned objects",
		Long: `Show the most recent runs recorded in the ledger, newest first.

With --entities, list the objects recorded for the configured environment
and prefix in the order they were provisioned. These are the steps
--resume skips.

Example:
  powerone ledger
  powerone ledger --entities --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&opts.Entities, "entities", false, "list provisioned objects for the configured scope")

	return cmd
}

func runLedger(cmd *cobra.Command, opts *LedgerOptions) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	if opts.Entities {
		if cfg.EnvURL == "" {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration",
				fmt.Errorf("POWERONE_ENV_URL is required to list entities"))
		}
		if err := cfg.ValidatePrefix(); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
	}

	st, err := openLedger(cfg, formatter)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	ctx := cmd.Context()
	var result LedgerResult
	if opts.Entities {
		result.Scope = scope(cfg)
		result.Entities, err = st.List(ctx, result.Scope)
	} else {
		result.Runs, err = st.Runs(ctx, opts.Limit)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to read ledger", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	writeLedger(formatter, result, opts.Entities)
	return nil
}

func writeLedger(f *OutputFormatter, result LedgerResult, entities bool) {
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if entities {
		if len(result.Entities) == 0 {
			fmt.Fprintf(f.Writer, "No entities recorded for %s\n", result.Scope)
			return
		}
		fmt.Fprintln(tw, "SEQ\tKIND\tKEY\tGUID\tRUN")
		for _, e := range result.Entities {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Kind, e.Key, e.GUID, e.RunID)
		}
		return
	}

	if len(result.Runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded")
		return
	}
	fmt.Fprintln(tw, "RUN\tFLOW\tMODE\tSTATUS\tSTARTED\tENVIRONMENT")
	for _, r := range result.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s|%s\n", r.ID, r.Flow, r.Mode, r.Status, r.StartedAt, r.EnvURL, r.Prefix)
		if r.Error != "" {
			f.VerboseLog("  %s: %s", r.ID, strings.TrimSpace(r.Error))
		}
	}
}
