package cli

import (
	"context"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/roach88/powerone/internal/auth"
	"github.com/roach88/powerone/internal/config"
	"github.com/roach88/powerone/internal/dataverse"
	"github.com/roach88/powerone/internal/store"
)

// loadConfig reads the environment and applies flag overrides. It does not
// validate; callers pick the checks they need.
func loadConfig(opts *RootOptions, f *OutputFormatter) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load configuration", err)
	}
	if opts.Ledger != "" {
		cfg.Ledger = opts.Ledger
	}
	return cfg, nil
}

// scope keys ledger entries so one ledger file can serve several
// environments and prefixes.
func scope(cfg *config.Config) string {
	return cfg.EnvURL + "|" + cfg.Prefix
}

func authSettings(cfg *config.Config) auth.Settings {
	return auth.Settings{
		EnvURL:       cfg.EnvURL,
		AccessToken:  cfg.AccessToken,
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	}
}

// connect builds an authenticated Web API client for a validated config.
func connect(ctx context.Context, cfg *config.Config, f *OutputFormatter) (*dataverse.Client, oauth2.TokenSource, error) {
	tokens, err := auth.TokenSource(ctx, authSettings(cfg))
	if err != nil {
		return nil, nil, f.Fail(ExitCommandError, ErrCodeAuth, "no usable credentials", err)
	}
	client := dataverse.NewClient(cfg.EnvURL, tokens)
	client.APIVersion = cfg.APIVersion
	client.SolutionName = cfg.Solution
	client.HTTPClient.Timeout = cfg.Timeout
	return client, tokens, nil
}

// identity decodes the current token for display. Opaque tokens and token
// errors yield false.
func identity(tokens oauth2.TokenSource) (auth.Identity, bool) {
	tok, err := tokens.Token()
	if err != nil {
		slog.Debug("token unavailable", "error", err)
		return auth.Identity{}, false
	}
	id, err := auth.Inspect(tok.AccessToken)
	if err != nil {
		slog.Debug("token is not a JWT", "error", err)
		return auth.Identity{}, false
	}
	return id, true
}

func openLedger(cfg *config.Config, f *OutputFormatter) (*store.Store, error) {
	slog.Debug("opening ledger", "path", cfg.Ledger)
	st, err := store.Open(cfg.Ledger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeLedger, "failed to open ledger", err)
	}
	return st, nil
}

func closeLedger(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
}
