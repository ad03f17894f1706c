// Package config loads the tool's settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the runtime configuration shared by every command.
type Config struct {
	EnvURL     string        `env:"POWERONE_ENV_URL"`
	Prefix     string        `env:"POWERONE_PREFIX" envDefault:"po"`
	Solution   string        `env:"POWERONE_SOLUTION"`
	APIVersion string        `env:"POWERONE_API_VERSION" envDefault:"v9.2"`
	Timeout    time.Duration `env:"POWERONE_HTTP_TIMEOUT" envDefault:"60s"`
	Pace       float64       `env:"POWERONE_PACE" envDefault:"1"`
	Ledger     string        `env:"POWERONE_LEDGER" envDefault:"powerone-ledger.db"`

	TenantID     string `env:"POWERONE_TENANT_ID"`
	ClientID     string `env:"POWERONE_CLIENT_ID"`
	ClientSecret string `env:"POWERONE_CLIENT_SECRET"`
	AccessToken  string `env:"POWERONE_ACCESS_TOKEN"`
}

// placeholder is the value shipped in example .env files.
const placeholder = "<your-org>"

var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9]{1,7}$`)

// Load reads envFile if it exists, then parses the environment. Variables
// already set in the environment win over the file. An empty envFile skips
// the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.EnvURL = strings.TrimRight(strings.TrimSpace(cfg.EnvURL), "/")
	return &cfg, nil
}

// Validate checks the settings every flow needs.
func (c *Config) Validate() error {
	var errs []error
	switch {
	case c.EnvURL == "":
		errs = append(errs, errors.New("POWERONE_ENV_URL is required"))
	case strings.Contains(c.EnvURL, placeholder):
		errs = append(errs, fmt.Errorf("POWERONE_ENV_URL still contains the placeholder %s", placeholder))
	default:
		u, err := url.Parse(c.EnvURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs = append(errs, fmt.Errorf("POWERONE_ENV_URL %q is not an absolute URL", c.EnvURL))
		} else if u.Scheme != "https" && !isLoopback(u.Hostname()) {
			errs = append(errs, fmt.Errorf("POWERONE_ENV_URL %q must use https", c.EnvURL))
		}
	}
	if err := c.ValidatePrefix(); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("POWERONE_HTTP_TIMEOUT must be positive"))
	}
	if c.Pace < 0 {
		errs = append(errs, errors.New("POWERONE_PACE must not be negative"))
	}
	if c.AccessToken == "" {
		var missing []string
		if c.TenantID == "" {
			missing = append(missing, "POWERONE_TENANT_ID")
		}
		if c.ClientID == "" {
			missing = append(missing, "POWERONE_CLIENT_ID")
		}
		if c.ClientSecret == "" {
			missing = append(missing, "POWERONE_CLIENT_SECRET")
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Errorf("set POWERONE_ACCESS_TOKEN or %s", strings.Join(missing, ", ")))
		}
	}
	return errors.Join(errs...)
}

// ValidatePrefix checks the publisher prefix alone. Offline commands need
// nothing else.
func (c *Config) ValidatePrefix() error {
	if !prefixPattern.MatchString(c.Prefix) {
		return fmt.Errorf("POWERONE_PREFIX %q must be 2-8 lower-case letters or digits, starting with a letter", c.Prefix)
	}
	return nil
}

// isLoopback allows plain http against a local fake or proxy.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
