package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/tokenfile"
)

// DropboxEndpoint is Dropbox's OAuth2 authorization server.
var DropboxEndpoint = oauth2.Endpoint{
	AuthURL:  "https://www.dropbox.com/oauth2/authorize",
	TokenURL: "https://api.dropboxapi.com/oauth2/token",
}

var dropboxScopes = []string{
	"files.content.read",
	"files.content.write",
	"files.metadata.read",
}

// OAuth2Config builds the client configuration for the Dropbox app.
func OAuth2Config(c config.DropboxConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.AppKey,
		ClientSecret: c.AppSecret,
		Endpoint:     DropboxEndpoint,
		Scopes:       dropboxScopes,
	}
}

// OAuth2Provider refreshes a stored OAuth2 token when it is about to expire
// and writes the refreshed token back, so the next operation starts from a
// valid one instead of refreshing again.
type OAuth2Provider struct {
	cfg  *oauth2.Config
	path string

	mu sync.Mutex // serializes load/refresh/save on the token file
}

// NewOAuth2 returns a provider backed by the token file at path.
func NewOAuth2(cfg *oauth2.Config, path string) *OAuth2Provider {
	return &OAuth2Provider{cfg: cfg, path: path}
}

func (p *OAuth2Provider) Acquire(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, err := tokenfile.Load(p.path)
	if err != nil {
		return "", err
	}
	if stored == nil {
		log.Error().
			Str("action", "auth_acquire").
			Str("method", config.AuthOAuth2).
			Str("path", p.path).
			Msg("no oauth2 token stored; run login first")
		return "", ErrNoToken
	}

	start := time.Now()
	fresh, err := p.cfg.TokenSource(ctx, stored).Token()
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "auth_refresh").
			Str("path", p.path).
			Msg("oauth2 token refresh failed")
		return "", fmt.Errorf("refresh oauth2 token: %w", err)
	}

	if fresh.AccessToken != stored.AccessToken || !fresh.Expiry.Equal(stored.Expiry) {
		if err := tokenfile.Save(p.path, fresh); err != nil {
			return "", fmt.Errorf("persist refreshed token: %w", err)
		}
		log.Info().
			Str("action", "auth_refresh").
			Str("path", p.path).
			Time("expiry", fresh.Expiry).
			Dur("elapsed_ms", time.Since(start)).
			Msg("oauth2 token refreshed")
	} else {
		log.Debug().
			Str("action", "auth_acquire").
			Time("expiry", fresh.Expiry).
			Msg("stored oauth2 token still valid")
	}
	return fresh.AccessToken, nil
}

// Authorization is an in-progress authorization-code request.
type Authorization struct {
	URL string

	cfg      *oauth2.Config
	path     string
	verifier string
}

// BeginLogin builds the URL the user opens to approve the app. Dropbox
// shows the code on its own page because no redirect URL is registered.
func BeginLogin(cfg *oauth2.Config, tokenPath string) *Authorization {
	verifier := oauth2.GenerateVerifier()
	url := cfg.AuthCodeURL("",
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("token_access_type", "offline"),
		oauth2.SetAuthURLParam("force_reapprove", "true"),
	)
	return &Authorization{URL: url, cfg: cfg, path: tokenPath, verifier: verifier}
}

// Complete exchanges the code the user pasted and stores the token.
func (a *Authorization) Complete(ctx context.Context, code string) error {
	tok, err := a.cfg.Exchange(ctx, code, oauth2.VerifierOption(a.verifier))
	if err != nil {
		return fmt.Errorf("oauth2 code exchange: %w", err)
	}
	if err := tokenfile.Save(a.path, tok); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	log.Info().
		Str("action", "auth_login").
		Str("path", a.path).
		Time("expiry", tok.Expiry).
		Bool("refreshable", tok.RefreshToken != "").
		Msg("login OK")
	return nil
}
