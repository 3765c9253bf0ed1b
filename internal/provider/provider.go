package provider

import (
	"context"
	"time"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
)

// Kind tells files, folders and deletion markers apart in a listing.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
	KindDeleted
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Entry is one object reported by the remote store.
type Entry struct {
	Kind           Kind
	Name           string
	PathLower      string
	PathDisplay    string
	Size           int64
	ServerModified time.Time
}

// Page is one page of a folder listing. Cursor is only meaningful when
// HasMore is true.
type Page struct {
	Entries []Entry
	Cursor  string
	HasMore bool
}

// Remote is an authenticated session against a file store.
// Calls block; callers run them on an executor.Pool.
type Remote interface {
	ListFolder(ctx context.Context, path string) (Page, error)
	ListFolderContinue(ctx context.Context, cursor string) (Page, error)

	// Upload stores data at path in one request, replacing any existing object.
	Upload(ctx context.Context, path string, data []byte) (Entry, error)

	// UploadSessionStart opens a chunked upload with its first chunk and
	// returns the session token. path is the eventual commit target; stores
	// that do not need it up front ignore it.
	UploadSessionStart(ctx context.Context, path string, data []byte) (string, error)
	UploadSessionAppend(ctx context.Context, session string, offset uint64, data []byte) error
	UploadSessionFinish(ctx context.Context, session string, offset uint64, path string, data []byte) (Entry, error)

	Download(ctx context.Context, path string) (Entry, []byte, error)
	Delete(ctx context.Context, path string) error
	GetMetadata(ctx context.Context, path string) (Entry, error)
}

// Store builds Remote sessions from a bearer credential.
type Store interface {
	// Name returns the provider identifier (e.g. "dropbox", "azure").
	Name() string

	// Info identifies the backup agent built on this store.
	Info() backup.Info

	// Connect returns a session that authenticates with credential.
	Connect(ctx context.Context, credential string) (Remote, error)
}
