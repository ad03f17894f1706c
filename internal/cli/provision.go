package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/flow"
	"github.com/roach88/powerone/internal/provision"
	"github.com/roach88/powerone/internal/store"
)

// FlowOptions holds flags for the schema, roles and seed commands.
type FlowOptions struct {
	*RootOptions
	Destructive bool
}

// warnings are shown before the confirmation prompt of each destructive mode.
var warnings = map[flow.Flow]string{
	flow.Schema: "This deletes every PowerOne table, its data, and the global choices.",
	flow.Roles:  "This deletes every PowerOne security role.",
	flow.Seed:   "This deletes every record in the PowerOne tables.",
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return newFlowCommand(rootOpts, flow.Schema,
		"Create global choices, tables, columns and relationships",
		`Create the PowerOne schema in dependency order: global choices, tables in
five phases, choice columns, display names, memo columns, then 1:N and N:N
relationships.

With --rollback, delete the tables children first, then the global choices.

Example:
  powerone schema
  powerone schema --resume
  powerone schema --rollback --confirm "DELETE ALL"`)
}

// NewRolesCommand creates the roles command.
func NewRolesCommand(rootOpts *RootOptions) *cobra.Command {
	return newFlowCommand(rootOpts, flow.Roles,
		"Create security roles and grant table privileges",
		`Create the PowerOne security roles in the caller's business unit and grant
each one its table privileges. Roles that already exist are left as they are.

With --rollback, delete every PowerOne role found by name.

Example:
  powerone roles
  powerone roles --rollback`)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return newFlowCommand(rootOpts, flow.Seed,
		"Load sample records and associations",
		`Load the PowerOne sample data: records in dependency order with their
lookups bound, then the many-to-many associations.

With --clear, delete every record of the PowerOne tables, children first.

Example:
  powerone seed
  powerone seed --clear --confirm "DELETE ALL"`)
}

func newFlowCommand(rootOpts *RootOptions, f flow.Flow, short, long string) *cobra.Command {
	opts := &FlowOptions{RootOptions: rootOpts}
	mode := f.DestructiveName()

	cmd := &cobra.Command{
		Use:   string(f),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(cmd, opts, f)
		},
	}

	cmd.Flags().BoolVar(&opts.Destructive, mode, false, fmt.Sprintf("%s instead of provisioning (asks for confirmation)", mode))

	return cmd
}

// RunResult is the final report of a flow command.
type RunResult struct {
	RunID     string                   `json:"run_id"`
	Flow      string                   `json:"flow"`
	Mode      string                   `json:"mode"`
	Phases    []provision.PhaseSummary `json:"phases"`
	Executed  int                      `json:"executed"`
	Skipped   int                      `json:"skipped"`
	Failed    int                      `json:"failed"`
	Forgotten int64                    `json:"forgotten,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func (r RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s: %d executed, %d skipped, %d failed", r.Flow, r.Mode, r.Executed, r.Skipped, r.Failed)
	if r.Forgotten > 0 {
		fmt.Fprintf(&b, ", %d ledger entries forgotten", r.Forgotten)
	}
	fmt.Fprintf(&b, "\nrun %s", r.RunID)
	return b.String()
}

func runFlow(cmd *cobra.Command, opts *FlowOptions, f flow.Flow) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to load catalog", err)
	}

	mode := "apply"
	if opts.Destructive {
		mode = f.DestructiveName()
		fmt.Fprintf(formatter.GetErrWriter(), "WARNING: %s\nTarget: %s\n", warnings[f], cfg.EnvURL)
		ok, err := confirm(opts.Confirm, cmd.InOrStdin(), formatter.GetErrWriter())
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read confirmation", err)
		}
		if !ok {
			fmt.Fprintf(formatter.GetErrWriter(), "%s cancelled.\n", strings.ToUpper(mode[:1])+mode[1:])
			return formatter.Fail(ExitCancelled, ErrCodeCancelled, mode+" cancelled by operator", nil)
		}
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, tokens, err := connect(ctx, cfg, formatter)
	if err != nil {
		return err
	}
	if id, ok := identity(tokens); ok {
		slog.Info("authenticated", "identity", id.Name(), "tenant", id.TenantID, "expires", id.ExpiresAt)
	}

	st, err := openLedger(cfg, formatter)
	if err != nil {
		return err
	}
	defer closeLedger(st)

	gen := opts.RunIDs
	if gen == nil {
		gen = provision.UUIDv7Generator{}
	}
	runID := gen.Generate()
	if err := st.BeginRun(ctx, store.Run{
		ID:     runID,
		Flow:   string(f),
		Mode:   mode,
		EnvURL: cfg.EnvURL,
		Prefix: cfg.Prefix,
	}); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to record run", err)
	}

	ids := provision.NewIDMap()
	var deleted []string
	phases, err := flow.Phases(f, opts.Destructive, flow.Env{
		Client:  client,
		Catalog: cat,
		Names:   catalog.Names{Prefix: cfg.Prefix},
		IDs:     ids,
		Deleted: func(guid string) { deleted = append(deleted, guid) },
	})
	if err != nil {
		finishRun(st, runID, err)
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to build phases", err)
	}

	runner := &provision.Runner{
		IDs:   ids,
		Retry: provision.DefaultRetry(),
		Sleep: opts.Sleep,
		Pace:  cfg.Pace,
		Scope: scope(cfg),
		RunID: runID,
		Out:   formatter.Progress(),
	}
	// Destructive steps are unkeyed; nothing would be recorded or resumed.
	if !opts.Destructive {
		runner.Ledger = st
		runner.Resume = opts.Resume
	}

	slog.Info("run started", "run_id", runID, "flow", f, "mode", mode, "env", cfg.EnvURL, "prefix", cfg.Prefix)
	summary, runErr := runner.Run(ctx, phases)
	finishRun(st, runID, runErr)

	result := RunResult{RunID: runID, Flow: string(f), Mode: mode, Phases: summary.Phases}
	result.Executed, result.Skipped, result.Failed = summary.Totals()

	// Runs before the error check: an interrupted rollback has still
	// deleted what it reached. ctx may be cancelled by then.
	if opts.Destructive {
		complete := runErr == nil && result.Failed == 0
		n, err := forget(context.Background(), st, scope(cfg), f, complete, deleted)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLedger, "failed to forget ledger entries", err)
		}
		result.Forgotten = n
	}

	if runErr != nil {
		result.Error = runErr.Error()
		slog.Error("run failed", "run_id", runID, "error", runErr)
		msg := string(f) + " " + mode + " failed"
		if errors.Is(runErr, context.Canceled) {
			msg = string(f) + " " + mode + " interrupted"
		}
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeProvision, msg, result)
		} else {
			_ = formatter.Error(ErrCodeProvision, msg, runErr.Error())
			if !opts.Destructive {
				fmt.Fprintln(formatter.Writer, "Rerun with --resume to continue from the last recorded step.")
			}
		}
		return WrapExitError(ExitFailure, msg, runErr)
	}

	slog.Info("run finished", "run_id", runID, "executed", result.Executed, "skipped", result.Skipped, "failed", result.Failed)
	return formatter.Success(result)
}

// forget drops the ledger entries a destructive run invalidated. An
// incomplete clear may have left records behind, so it forgets only the
// records it deleted, plus every association. Rollbacks forget their whole
// set: recreating a surviving table or role fails or is skipped, never
// duplicated.
func forget(ctx context.Context, st *store.Store, scope string, f flow.Flow, complete bool, deleted []string) (int64, error) {
	if f != flow.Seed || complete {
		return st.Forget(ctx, scope, f.ForgetKinds()...)
	}
	slog.Warn("clear incomplete, keeping ledger entries of surviving records", "deleted", len(deleted))
	n, err := st.ForgetGUIDs(ctx, scope, flow.KindRecord, deleted...)
	if err != nil {
		return n, err
	}
	m, err := st.Forget(ctx, scope, flow.KindAssociation)
	return n + m, err
}

// finishRun records the outcome even when ctx was cancelled.
func finishRun(st *store.Store, runID string, runErr error) {
	if err := st.FinishRun(context.Background(), runID, runErr); err != nil {
		slog.Error("error finishing run", "run_id", runID, "error", err)
	}
}
