package auth

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
)

const storageScope = "https://storage.azure.com/.default"

// identityProvider issues Entra ID bearer tokens for Azure Storage.
// azidentity caches and refreshes them internally.
type identityProvider struct {
	cred   azcore.TokenCredential
	method string
}

// Priority: 1) Service Principal  2) DefaultAzureCredential.
func newIdentityProvider(c config.AzureConfig) (*identityProvider, error) {
	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("azure service principal: %w", err)
		}
		return &identityProvider{cred: cred, method: "service_principal"}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("azure default credential: %w", err)
	}
	return &identityProvider{cred: cred, method: "default"}, nil
}

func (p *identityProvider) Acquire(ctx context.Context) (string, error) {
	tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{storageScope}})
	if err != nil {
		log.Error().Err(err).
			Str("action", "auth_acquire").
			Str("method", p.method).
			Msg("azure token request failed")
		return "", fmt.Errorf("azure token: %w", err)
	}
	if tok.Token == "" {
		return "", ErrNoToken
	}
	log.Debug().
		Str("action", "auth_acquire").
		Str("method", p.method).
		Time("expiry", tok.ExpiresOn).
		Msg("token acquired")
	return tok.Token, nil
}
