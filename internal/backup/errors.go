package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyStream is returned when an upload source produced no data at all.
	ErrEmptyStream = errors.New("empty upload stream")

	// ErrMissingCredential is returned when no stored credential exists.
	ErrMissingCredential = errors.New("no stored credential")

	// ErrNoName is returned when a backup has neither a name nor an id to store it under.
	ErrNoName = errors.New("backup has no name or id")

	// ErrSizeMismatch is wrapped when the stored object's size differs from the bytes sent.
	ErrSizeMismatch = errors.New("stored size does not match upload")
)

// AgentError wraps any failure raised while talking to the remote store.
// Callers should treat it as opaque; Err is kept for diagnostics.
type AgentError struct {
	Op   string // list, upload, download, delete, get
	Path string // resolved remote path, empty for list of the root
	Err  error
}

func (e *AgentError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backup agent: %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup agent: %s %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }
