package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/powerone/internal/provision"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	EnvFile string // .env file read before the environment
	Ledger  string // overrides POWERONE_LEDGER when set
	Resume  bool   // skip steps the ledger already records
	Confirm string // confirmation text for destructive modes

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs provision.RunIDGenerator

	// Sleep allows overriding retry backoff and pauses (for testing).
	Sleep provision.Sleeper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the powerone CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "powerone",
		Short: "powerone - Dataverse provisioning for the PowerOne OKR app",
		Long: `Provision a Microsoft Dataverse environment for the PowerOne OKR app.

Three flows run in dependency order: schema creates choices, tables, columns
and relationships; roles creates security roles with their privileges; seed
loads sample records and associations. Each flow has a destructive
counterpart that asks for confirmation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				err := fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return WrapExitError(ExitCommandError, "invalid flag", err)
			}
			configureLogging(cmd, opts.Verbose)
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the environment (empty to skip)")
	flags.StringVar(&opts.Ledger, "ledger", "", "path to the SQLite ledger (default $POWERONE_LEDGER)")
	flags.BoolVar(&opts.Resume, "resume", false, "skip steps already recorded in the ledger")
	flags.StringVar(&opts.Confirm, "confirm", "", "confirmation text for rollback and clear (prompted when empty)")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewRolesCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewWhoAmICommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// configureLogging installs a text handler on the command's stderr. Debug
// records are shown only with --verbose.
func configureLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
