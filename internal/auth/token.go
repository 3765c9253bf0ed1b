package auth

import (
	"context"

	"github.com/rs/zerolog/log"
)

// tokenProvider serves a credential that never changes (Dropbox access
// token or Azure SAS).
type tokenProvider struct {
	method string
	token  string
}

func (p *tokenProvider) Acquire(ctx context.Context) (string, error) {
	// Never log the token content.
	if p.token == "" {
		log.Debug().
			Str("action", "auth_acquire").
			Str("method", p.method).
			Msg("missing token")
		return "", ErrNoToken
	}
	log.Debug().
		Str("action", "auth_acquire").
		Str("method", p.method).
		Msg("token acquired")
	return p.token, nil
}
