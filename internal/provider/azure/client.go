package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
)

// bearerCredential hands the SDK a token the auth provider already
// acquired. Each client lives for one operation, so the expiry only has to
// outlast that.
type bearerCredential struct {
	token string
}

func (c bearerCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// clientOptions turns SDK retries off; a failed call ends the operation.
func clientOptions() *azblob.ClientOptions {
	return &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}
}

// newClient builds a client from the credential of the configured method.
// sas: credential is the container SAS. identity: credential is an Entra ID
// bearer token.
func newClient(endpoint, method, credential string) (*azblob.Client, error) {
	switch method {
	case config.AuthSAS:
		sas := strings.TrimPrefix(strings.TrimSpace(credential), "?")
		return azblob.NewClientWithNoCredential(endpoint+"?"+sas, clientOptions())
	case config.AuthIdentity:
		return azblob.NewClient(endpoint, bearerCredential{token: credential}, clientOptions())
	default:
		return nil, fmt.Errorf("azure: unsupported auth method: %s", method)
	}
}
