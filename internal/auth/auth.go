// Package auth supplies bearer tokens for the Dataverse Web API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthorityURL is the Microsoft identity platform token endpoint template.
const AuthorityURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

// Settings selects how tokens are obtained. A non-empty AccessToken wins over
// client credentials.
type Settings struct {
	EnvURL       string
	AccessToken  string
	TenantID     string
	ClientID     string
	ClientSecret string

	// TokenURL overrides the tenant token endpoint. Tests only.
	TokenURL string
}

// ErrNoCredentials is returned when neither a token nor client credentials
// are configured.
var ErrNoCredentials = errors.New("auth: no access token or client credentials configured")

// Scope returns the Dataverse scope for an environment URL.
func Scope(envURL string) string {
	return strings.TrimRight(envURL, "/") + "/.default"
}

// TokenSource returns a cached token source for s. ctx governs the HTTP
// client used for token requests, not individual requests.
func TokenSource(ctx context.Context, s Settings) (oauth2.TokenSource, error) {
	if s.AccessToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: s.AccessToken,
			TokenType:   "Bearer",
		}), nil
	}
	if s.TenantID == "" || s.ClientID == "" || s.ClientSecret == "" {
		return nil, ErrNoCredentials
	}

	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf(AuthorityURL, s.TenantID)
	}
	cc := &clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{Scope(s.EnvURL)},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx)), nil
}

// Identity is what a token says about its holder. Nothing is verified; the
// fields are for display only.
type Identity struct {
	Subject   string
	UPN       string
	AppID     string
	TenantID  string
	Audience  []string
	ExpiresAt time.Time
}

// Name returns the best human-readable identifier.
func (i Identity) Name() string {
	switch {
	case i.UPN != "":
		return i.UPN
	case i.AppID != "":
		return "app " + i.AppID
	default:
		return i.Subject
	}
}

type claims struct {
	jwt.RegisteredClaims
	UPN      string `json:"upn"`
	AppID    string `json:"appid"`
	TenantID string `json:"tid"`
}

// Inspect decodes the claims of a JWT access token without verifying its
// signature.
func Inspect(token string) (Identity, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{}, fmt.Errorf("decode token: %w", err)
	}
	id := Identity{
		Subject:  c.Subject,
		UPN:      c.UPN,
		AppID:    c.AppID,
		TenantID: c.TenantID,
		Audience: c.Audience,
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}
