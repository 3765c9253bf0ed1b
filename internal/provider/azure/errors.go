package azure

import (
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// describe turns common service errors into actionable messages. The SDK
// error stays wrapped for errors.As.
func (r *Remote) describe(err error, key string) error {
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return fmt.Errorf("azure %q: %w", key, err)
	}
	switch re.ErrorCode {
	case string(bloberror.ContainerNotFound):
		return fmt.Errorf("container %q not found: create it first (container SAS cannot create containers): %w", r.container, err)
	case string(bloberror.AuthorizationFailure),
		string(bloberror.AuthorizationPermissionMismatch),
		string(bloberror.AuthenticationFailed):
		return fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwdl: %w", r.container, err)
	case string(bloberror.BlobNotFound):
		return fmt.Errorf("blob %q not found in container %q: %w", key, r.container, err)
	}
	return fmt.Errorf("azure %q: %s (status %d): %w", key, re.ErrorCode, re.StatusCode, err)
}
