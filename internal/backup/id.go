package backup

import (
	"fmt"
	"net/url"
	"strings"
)

// IDFromPath derives a backup id from a remote path. The path is lowercased,
// stripped of its leading separator and percent-encoded, so ids never
// contain a raw "/".
func IDFromPath(remotePath string) string {
	p := strings.TrimPrefix(strings.ToLower(remotePath), "/")
	return url.PathEscape(p)
}

// PathFromID is the inverse of IDFromPath. Ids that were never encoded
// (plain file names) resolve unchanged under the root.
func PathFromID(id string) (string, error) {
	decoded, err := url.PathUnescape(id)
	if err != nil {
		return "", fmt.Errorf("decode backup id %q: %w", id, err)
	}
	return "/" + strings.TrimPrefix(decoded, "/"), nil
}

// SafeName replaces path separators in a backup name so it cannot create
// sub-folders on the remote side.
func SafeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}

// JoinPath builds an absolute remote path for name under folder. An empty
// folder means the root.
func JoinPath(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return "/" + name
	}
	return "/" + folder + "/" + name
}

// FolderPath returns the listing path for folder; the root is "".
func FolderPath(folder string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return ""
	}
	return "/" + folder
}
