package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/provider"
)

const (
	Domain   = "dropboxbackup"
	Title    = "Dropbox"
	UniqueID = "dropbox_backup"
)

// Store connects to the Dropbox files API.
type Store struct {
	newClient func(token string) Client
}

// NewStore returns a Store using the Dropbox SDK.
func NewStore() *Store {
	return &Store{newClient: newSDKClient}
}

func (s *Store) Name() string { return config.ProviderDropbox }

func (s *Store) Info() backup.Info {
	return backup.Info{Domain: Domain, Name: Title, UniqueID: UniqueID}
}

// Connect binds a fresh SDK client to credential. Clients are never shared
// between operations, so a refreshed token is always the one in use.
func (s *Store) Connect(_ context.Context, credential string) (provider.Remote, error) {
	if credential == "" {
		return nil, errors.New("dropbox: empty access token")
	}
	return &Remote{client: s.newClient(credential)}, nil
}

// Remote implements provider.Remote on one Dropbox client. The SDK does not
// take a context, so ctx is unused once a call has started.
type Remote struct {
	client Client
}

func (r *Remote) ListFolder(_ context.Context, path string) (provider.Page, error) {
	res, err := r.client.ListFolder(files.NewListFolderArg(path))
	if err != nil {
		return provider.Page{}, fmt.Errorf("dropbox list_folder %q: %w", path, err)
	}
	return toPage(res), nil
}

func (r *Remote) ListFolderContinue(_ context.Context, cursor string) (provider.Page, error) {
	res, err := r.client.ListFolderContinue(files.NewListFolderContinueArg(cursor))
	if err != nil {
		return provider.Page{}, fmt.Errorf("dropbox list_folder/continue: %w", err)
	}
	return toPage(res), nil
}

func (r *Remote) Upload(_ context.Context, path string, data []byte) (provider.Entry, error) {
	start := time.Now()
	arg := files.NewUploadArg(path)
	arg.Mode = overwrite()
	md, err := r.client.Upload(arg, bytes.NewReader(data))
	if err != nil {
		return provider.Entry{}, fmt.Errorf("dropbox upload %q: %w", path, err)
	}
	log.Debug().
		Str("action", "dropbox_upload").
		Str("path", path).
		Int("bytes", len(data)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("upload OK")
	return fileEntry(md), nil
}

// UploadSessionStart ignores path: Dropbox only needs it at finish.
func (r *Remote) UploadSessionStart(_ context.Context, _ string, data []byte) (string, error) {
	res, err := r.client.UploadSessionStart(files.NewUploadSessionStartArg(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("dropbox upload_session/start: %w", err)
	}
	log.Debug().
		Str("action", "dropbox_session_start").
		Int("bytes", len(data)).
		Msg("session opened")
	return res.SessionId, nil
}

func (r *Remote) UploadSessionAppend(_ context.Context, session string, offset uint64, data []byte) error {
	arg := files.NewUploadSessionAppendArg(files.NewUploadSessionCursor(session, offset))
	if err := r.client.UploadSessionAppendV2(arg, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("dropbox upload_session/append at %d: %w", offset, err)
	}
	log.Debug().
		Str("action", "dropbox_session_append").
		Uint64("offset", offset).
		Int("bytes", len(data)).
		Msg("chunk appended")
	return nil
}

func (r *Remote) UploadSessionFinish(_ context.Context, session string, offset uint64, path string, data []byte) (provider.Entry, error) {
	commit := files.NewCommitInfo(path)
	commit.Mode = overwrite()
	arg := files.NewUploadSessionFinishArg(files.NewUploadSessionCursor(session, offset), commit)
	md, err := r.client.UploadSessionFinish(arg, bytes.NewReader(data))
	if err != nil {
		return provider.Entry{}, fmt.Errorf("dropbox upload_session/finish %q: %w", path, err)
	}
	log.Debug().
		Str("action", "dropbox_session_finish").
		Str("path", path).
		Uint64("offset", offset).
		Int("bytes", len(data)).
		Msg("session committed")
	return fileEntry(md), nil
}

func (r *Remote) Download(_ context.Context, path string) (provider.Entry, []byte, error) {
	md, body, err := r.client.Download(files.NewDownloadArg(path))
	if err != nil {
		return provider.Entry{}, nil, fmt.Errorf("dropbox download %q: %w", path, err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("action", "dropbox_download").
				Str("path", path).
				Msg("failed to close download body")
		}
	}()
	data, err := io.ReadAll(body)
	if err != nil {
		return provider.Entry{}, nil, fmt.Errorf("dropbox download %q: read body: %w", path, err)
	}
	return fileEntry(md), data, nil
}

func (r *Remote) Delete(_ context.Context, path string) error {
	if _, err := r.client.DeleteV2(files.NewDeleteArg(path)); err != nil {
		return fmt.Errorf("dropbox delete %q: %w", path, err)
	}
	return nil
}

func (r *Remote) GetMetadata(_ context.Context, path string) (provider.Entry, error) {
	md, err := r.client.GetMetadata(files.NewGetMetadataArg(path))
	if err != nil {
		return provider.Entry{}, fmt.Errorf("dropbox get_metadata %q: %w", path, err)
	}
	e, ok := toEntry(md)
	if !ok {
		return provider.Entry{}, fmt.Errorf("dropbox get_metadata %q: unexpected metadata %T", path, md)
	}
	return e, nil
}

func toPage(res *files.ListFolderResult) provider.Page {
	p := provider.Page{Cursor: res.Cursor, HasMore: res.HasMore}
	for _, m := range res.Entries {
		if e, ok := toEntry(m); ok {
			p.Entries = append(p.Entries, e)
		}
	}
	return p
}

func toEntry(m files.IsMetadata) (provider.Entry, bool) {
	switch md := m.(type) {
	case *files.FileMetadata:
		return fileEntry(md), true
	case *files.FolderMetadata:
		return provider.Entry{
			Kind:        provider.KindFolder,
			Name:        md.Name,
			PathLower:   md.PathLower,
			PathDisplay: md.PathDisplay,
		}, true
	case *files.DeletedMetadata:
		return provider.Entry{
			Kind:        provider.KindDeleted,
			Name:        md.Name,
			PathLower:   md.PathLower,
			PathDisplay: md.PathDisplay,
		}, true
	default:
		return provider.Entry{}, false
	}
}

func fileEntry(md *files.FileMetadata) provider.Entry {
	if md == nil {
		return provider.Entry{Kind: provider.KindFile}
	}
	return provider.Entry{
		Kind:           provider.KindFile,
		Name:           md.Name,
		PathLower:      md.PathLower,
		PathDisplay:    md.PathDisplay,
		Size:           int64(md.Size),
		ServerModified: md.ServerModified,
	}
}

func init() {
	provider.Register(config.ProviderDropbox, func(cfg any) (provider.Store, error) {
		if _, ok := cfg.(config.Config); !ok {
			return nil, fmt.Errorf("dropbox: invalid config type")
		}
		return NewStore(), nil
	})
}
