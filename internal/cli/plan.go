package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/powerone/internal/catalog"
	"github.com/roach88/powerone/internal/flow"
	"github.com/roach88/powerone/internal/provision"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Destructive bool
}

// PlanResult is the JSON payload of the plan command.
type PlanResult struct {
	Flow  string                `json:"flow"`
	Mode  string                `json:"mode"`
	Steps []provision.PlanEntry `json:"steps"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <schema|roles|seed>",
		Short: "List the steps a flow would run",
		Long: `List the phases and steps of a flow in execution order without contacting
Dataverse. Only POWERONE_PREFIX is read from the configuration.

Phases whose steps depend on remote data, such as clearing records, are
shown as a single placeholder line.

Example:
  powerone plan schema
  powerone plan seed --destructive --format json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(flow.Schema), string(flow.Roles), string(flow.Seed)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Destructive, "destructive", false, "plan the rollback or clear mode")

	return cmd
}

func runPlan(cmd *cobra.Command, opts *PlanOptions, name string) error {
	formatter := newFormatter(cmd, opts.RootOptions)

	f, err := flow.Parse(name)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid argument", err)
	}

	cfg, err := loadConfig(opts.RootOptions, formatter)
	if err != nil {
		return err
	}
	if err := cfg.ValidatePrefix(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	cat, err := catalog.Load()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to load catalog", err)
	}

	phases, err := flow.Phases(f, opts.Destructive, flow.Env{
		Catalog: cat,
		Names:   catalog.Names{Prefix: cfg.Prefix},
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, "failed to build phases", err)
	}

	mode := "apply"
	if opts.Destructive {
		mode = f.DestructiveName()
	}

	if formatter.Format == "json" {
		return formatter.Success(PlanResult{Flow: string(f), Mode: mode, Steps: provision.Plan(phases)})
	}
	provision.WritePlan(formatter.Writer, phases)
	return nil
}
