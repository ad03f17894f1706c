package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// WhoAmIResult is the payload of the whoami command.
type WhoAmIResult struct {
	EnvURL         string    `json:"env_url"`
	UserID         string    `json:"user_id"`
	BusinessUnitID string    `json:"business_unit_id"`
	OrganizationID string    `json:"organization_id"`
	Identity       string    `json:"identity,omitempty"`
	TenantID       string    `json:"tenant_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
}

func (r WhoAmIResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Environment:   %s\n", r.EnvURL)
	if r.Identity != "" {
		fmt.Fprintf(&b, "Identity:      %s\n", r.Identity)
	}
	fmt.Fprintf(&b, "User:          %s\n", r.UserID)
	fmt.Fprintf(&b, "Business unit: %s\n", r.BusinessUnitID)
	fmt.Fprintf(&b, "Organization:  %s", r.OrganizationID)
	if !r.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "\nToken expires: %s", r.ExpiresAt.Format(time.RFC3339))
	}
	return b.String()
}

// NewWhoAmICommand creates the whoami command.
func NewWhoAmICommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Check the connection and show the calling user",
		Long: `Authenticate against the configured environment and call WhoAmI. Use it to
check credentials before running a flow.

Example:
  powerone whoami
  powerone whoami --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoAmI(cmd, rootOpts)
		},
	}
}

func runWhoAmI(cmd *cobra.Command, opts *RootOptions) error {
	formatter := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts, formatter)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	ctx := cmd.Context()
	client, tokens, err := connect(ctx, cfg, formatter)
	if err != nil {
		return err
	}
	who, err := client.WhoAmI(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "WhoAmI failed", err)
	}

	result := WhoAmIResult{
		EnvURL:         cfg.EnvURL,
		UserID:         who.UserID,
		BusinessUnitID: who.BusinessUnitID,
		OrganizationID: who.OrganizationID,
	}
	if id, ok := identity(tokens); ok {
		result.Identity = id.Name()
		result.TenantID = id.TenantID
		result.ExpiresAt = id.ExpiresAt
	}
	return formatter.Success(result)
}
