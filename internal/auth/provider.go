package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
)

var (
	ErrNoToken = errors.New("no stored credential available")
)

// Provider hands out a currently valid bearer credential. Implementations
// refresh and persist as needed; callers ask again for every operation.
type Provider interface {
	Acquire(ctx context.Context) (string, error)
}

// New selects the provider based on cfg.Auth.Method.
// NOTE: This package never initializes logging; main() does via logx.InitFromEnv().
func New(cfg config.Config) (Provider, error) {
	method := strings.ToLower(strings.TrimSpace(cfg.Auth.Method))
	log.Debug().
		Str("action", "auth_new").
		Str("provider", cfg.Provider).
		Str("method", method).
		Msg("auth provider selected")

	switch method {
	case config.AuthOAuth2:
		return NewOAuth2(OAuth2Config(cfg.Dropbox), cfg.Dropbox.TokenPath), nil

	case config.AuthToken:
		return &tokenProvider{method: method, token: cfg.Dropbox.AccessToken}, nil

	case config.AuthSAS:
		return &tokenProvider{method: method, token: cfg.Azure.SASToken}, nil

	case config.AuthIdentity:
		return newIdentityProvider(cfg.Azure)

	default:
		return nil, errors.New("unsupported auth method: " + method)
	}
}
