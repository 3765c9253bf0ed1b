// Package agent implements backup.Agent on top of a provider.Store.
//
// Every public operation acquires one credential, opens one remote session
// with it and runs each blocking remote call on the shared executor.Pool.
// Nothing is retried: the first failure ends the operation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/auth"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/executor"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/provider"
)

const (
	// ChunkSize is the amount buffered before each session append.
	ChunkSize = 4 << 20
	// SimpleUploadLimit is the largest declared size sent in one request.
	SimpleUploadLimit = 150 << 20
	// DownloadChunkSize is the chunk size handed back on download.
	DownloadChunkSize = 1 << 20
)

// Options configure an Agent.
type Options struct {
	Folder      string // remote sub-path; empty is the root
	HostVersion string // stamped on every record
}

// Agent is a backup.Agent backed by a remote file store.
type Agent struct {
	store       provider.Store
	creds       auth.Provider
	pool        *executor.Pool
	folder      string
	hostVersion string
}

var _ backup.Agent = (*Agent)(nil)

// New returns an agent for store. pool bounds the blocking calls of every
// operation the agent runs.
func New(store provider.Store, creds auth.Provider, pool *executor.Pool, opts Options) *Agent {
	return &Agent{
		store:       store,
		creds:       creds,
		pool:        pool,
		folder:      opts.Folder,
		hostVersion: opts.HostVersion,
	}
}

func (a *Agent) Info() backup.Info { return a.store.Info() }

// ListBackups follows the listing cursor until the store reports no more
// pages. Any failure discards what was gathered so far.
func (a *Agent) ListBackups(ctx context.Context) ([]backup.AgentBackup, error) {
	const op = "list"
	start := time.Now()
	folder := backup.FolderPath(a.folder)

	remote, err := a.connect(ctx, op, folder)
	if err != nil {
		return nil, err
	}

	page, err := executor.Run(ctx, a.pool, func() (provider.Page, error) {
		return remote.ListFolder(ctx, folder)
	})
	if err != nil {
		return nil, a.fail(op, folder, err)
	}

	out := a.records([]backup.AgentBackup{}, page.Entries)
	pages := 1
	for page.HasMore {
		cursor := page.Cursor
		page, err = executor.Run(ctx, a.pool, func() (provider.Page, error) {
			return remote.ListFolderContinue(ctx, cursor)
		})
		if err != nil {
			return nil, a.fail(op, folder, err)
		}
		out = a.records(out, page.Entries)
		pages++
	}

	log.Info().
		Str("action", "agent_list").
		Str("path", folder).
		Int("pages", pages).
		Int("backups", len(out)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("list OK")
	return out, nil
}

// UploadBackup stores the stream under the sanitized backup name. Declared
// sizes up to SimpleUploadLimit go up in a single request; larger ones use
// an upload session fed in ChunkSize appends.
func (a *Agent) UploadBackup(ctx context.Context, open backup.OpenStream, desc backup.Descriptor) error {
	const op = "upload"
	start := time.Now()

	name := strings.TrimSpace(desc.Name)
	if name == "" {
		name = strings.TrimSpace(desc.BackupID)
	}
	if name == "" {
		log.Error().Str("action", "agent_upload").Msg("backup has neither a name nor an id")
		return fmt.Errorf("upload: %w", backup.ErrNoName)
	}
	path := backup.JoinPath(a.folder, backup.SafeName(name))

	remote, err := a.connect(ctx, op, path)
	if err != nil {
		return err
	}

	src, err := open(ctx)
	if err != nil {
		return a.fail(op, path, fmt.Errorf("open stream: %w", err))
	}

	var (
		entry provider.Entry
		sent  int64
		mode  string
	)
	if desc.Size <= SimpleUploadLimit {
		mode = "simple"
		entry, sent, err = a.uploadSimple(ctx, remote, src, path)
	} else {
		mode = "session"
		entry, sent, err = a.uploadSession(ctx, remote, src, path)
	}
	if err != nil {
		if errors.Is(err, backup.ErrEmptyStream) {
			log.Error().
				Str("action", "agent_upload").
				Str("path", path).
				Msg("upload stream produced no data")
			return fmt.Errorf("upload %s: %w", path, err)
		}
		return a.fail(op, path, err)
	}
	if entry.Size != sent {
		return a.fail(op, path, fmt.Errorf("%w: sent %d bytes, store reports %d", backup.ErrSizeMismatch, sent, entry.Size))
	}

	log.Info().
		Str("action", "agent_upload").
		Str("path", path).
		Str("mode", mode).
		Int64("bytes", entry.Size).
		Dur("elapsed_ms", time.Since(start)).
		Msg("upload OK")
	return nil
}

func (a *Agent) uploadSimple(ctx context.Context, remote provider.Remote, src backup.ChunkSource, path string) (provider.Entry, int64, error) {
	data, err := backup.ReadAll(ctx, src)
	if err != nil {
		return provider.Entry{}, 0, err
	}
	entry, err := executor.Run(ctx, a.pool, func() (provider.Entry, error) {
		return remote.Upload(ctx, path, data)
	})
	return entry, int64(len(data)), err
}

// uploadSession appends strictly in order: each offset is the number of
// bytes the previous calls committed.
func (a *Agent) uploadSession(ctx context.Context, remote provider.Remote, src backup.ChunkSource, path string) (provider.Entry, int64, error) {
	first, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return provider.Entry{}, 0, backup.ErrEmptyStream
	}
	if err != nil {
		return provider.Entry{}, 0, fmt.Errorf("read chunk: %w", err)
	}

	session, err := executor.Run(ctx, a.pool, func() (string, error) {
		return remote.UploadSessionStart(ctx, path, first)
	})
	if err != nil {
		return provider.Entry{}, 0, err
	}
	offset := uint64(len(first))

	var buf []byte
	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return provider.Entry{}, 0, fmt.Errorf("read chunk: %w", err)
		}
		buf = append(buf, chunk...)
		if len(buf) < ChunkSize {
			continue
		}

		pending, at := buf, offset
		if err := executor.Do(ctx, a.pool, func() error {
			return remote.UploadSessionAppend(ctx, session, at, pending)
		}); err != nil {
			return provider.Entry{}, 0, err
		}
		offset += uint64(len(pending))
		buf = nil
	}

	entry, err := executor.Run(ctx, a.pool, func() (provider.Entry, error) {
		return remote.UploadSessionFinish(ctx, session, offset, path, buf)
	})
	return entry, int64(offset) + int64(len(buf)), err
}

// DownloadBackup fetches the whole object, then hands it back in
// DownloadChunkSize pieces.
func (a *Agent) DownloadBackup(ctx context.Context, backupID string) (backup.ChunkSource, error) {
	const op = "download"
	start := time.Now()

	path, err := backup.PathFromID(backupID)
	if err != nil {
		return nil, a.fail(op, backupID, err)
	}
	remote, err := a.connect(ctx, op, path)
	if err != nil {
		return nil, err
	}

	var data []byte
	if err := executor.Do(ctx, a.pool, func() error {
		_, d, err := remote.Download(ctx, path)
		data = d
		return err
	}); err != nil {
		return nil, a.fail(op, path, err)
	}

	log.Info().
		Str("action", "agent_download").
		Str("path", path).
		Int("bytes", len(data)).
		Dur("elapsed_ms", time.Since(start)).
		Msg("download OK")
	return backup.NewChunkStream(data, DownloadChunkSize), nil
}

func (a *Agent) DeleteBackup(ctx context.Context, backupID string) error {
	const op = "delete"

	path, err := backup.PathFromID(backupID)
	if err != nil {
		return a.fail(op, backupID, err)
	}
	remote, err := a.connect(ctx, op, path)
	if err != nil {
		return err
	}

	if err := executor.Do(ctx, a.pool, func() error {
		return remote.Delete(ctx, path)
	}); err != nil {
		return a.fail(op, path, err)
	}

	log.Info().
		Str("action", "agent_delete").
		Str("path", path).
		Msg("delete OK")
	return nil
}

func (a *Agent) GetBackup(ctx context.Context, backupID string) (backup.AgentBackup, error) {
	const op = "get"

	path, err := backup.PathFromID(backupID)
	if err != nil {
		return backup.AgentBackup{}, a.fail(op, backupID, err)
	}
	remote, err := a.connect(ctx, op, path)
	if err != nil {
		return backup.AgentBackup{}, err
	}

	entry, err := executor.Run(ctx, a.pool, func() (provider.Entry, error) {
		return remote.GetMetadata(ctx, path)
	})
	if err != nil {
		return backup.AgentBackup{}, a.fail(op, path, err)
	}

	rec := a.record(entry)
	if entry.PathLower == "" {
		rec.BackupID = backupID
	}
	log.Debug().
		Str("action", "agent_get").
		Str("path", path).
		Int64("bytes", entry.Size).
		Msg("metadata fetched")
	return rec, nil
}

// connect acquires a credential and opens a session with it. A missing
// credential is reported before any remote call is made.
func (a *Agent) connect(ctx context.Context, op, path string) (provider.Remote, error) {
	tok, err := a.creds.Acquire(ctx)
	if errors.Is(err, auth.ErrNoToken) {
		log.Error().
			Str("action", "agent_"+op).
			Str("path", path).
			Msg("no credential available")
		return nil, fmt.Errorf("%s: %w", op, errors.Join(backup.ErrMissingCredential, err))
	}
	if err != nil {
		return nil, a.fail(op, path, fmt.Errorf("acquire credential: %w", err))
	}

	remote, err := a.store.Connect(ctx, tok)
	if err != nil {
		return nil, a.fail(op, path, err)
	}
	return remote, nil
}

// fail logs err and wraps it into the agent error type.
func (a *Agent) fail(op, path string, err error) error {
	log.Error().
		Err(err).
		Str("action", "agent_"+op).
		Str("provider", a.store.Name()).
		Str("path", path).
		Msg(op + " failed")
	return &backup.AgentError{Op: op, Path: path, Err: err}
}

func (a *Agent) records(out []backup.AgentBackup, entries []provider.Entry) []backup.AgentBackup {
	for _, e := range entries {
		if e.Kind != provider.KindFile {
			continue
		}
		out = append(out, a.record(e))
	}
	return out
}

func (a *Agent) record(e provider.Entry) backup.AgentBackup {
	return backup.NewAgentBackup(backup.IDFromPath(e.PathLower), e.Name, e.Size, e.ServerModified, a.hostVersion)
}
