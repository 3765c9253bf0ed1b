// Package snapshot describes a local backup archive and streams it to an agent.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
)

// ReadChunkSize is the size of the chunks read from the archive.
const ReadChunkSize = 1 << 20

// Options controls how the archive is named on the remote side.
type Options struct {
	// LocalPath is the archive to upload.
	LocalPath string
	// Name is the remote file name; a timestamped default is used when empty.
	Name string
	// TimestampFormat is the Go time layout for the default name (default: 2006-01-02T15-04-05Z).
	TimestampFormat string
}

// Result describes the archive ready to be uploaded.
type Result struct {
	LocalPath  string
	SHA256     string
	Descriptor backup.Descriptor
}

// Describe checks the archive and builds its descriptor. The backup id is
// the first 8 hex digits of the archive's SHA-256.
func Describe(opt Options) (Result, error) {
	var res Result

	local := strings.TrimSpace(opt.LocalPath)
	if local == "" {
		return res, errors.New("snapshot: archive path is empty")
	}
	fi, err := os.Stat(local)
	if err != nil {
		return res, fmt.Errorf("stat %q: %w", local, err)
	}
	if !fi.Mode().IsRegular() {
		return res, fmt.Errorf("%q is not a regular file", local)
	}

	start := time.Now()
	sum, size, err := SHA256File(local)
	if err != nil {
		return res, fmt.Errorf("checksum: %w", err)
	}

	ts := time.Now().UTC()
	name := strings.TrimSpace(opt.Name)
	if name == "" {
		layout := strings.TrimSpace(opt.TimestampFormat)
		if layout == "" {
			layout = "2006-01-02T15-04-05Z"
		}
		name = fmt.Sprintf("backup-%s.tar", ts.Format(layout))
	}

	res.LocalPath = filepath.Clean(local)
	res.SHA256 = sum
	res.Descriptor = backup.Descriptor{
		BackupID: sum[:8],
		Name:     name,
		Size:     size,
		Date:     ts,
	}
	log.Debug().
		Str("action", "snapshot_describe").
		Str("local", res.LocalPath).
		Str("name", name).
		Int64("bytes", size).
		Str("sha256", sum).
		Dur("elapsed_ms", time.Since(start)).
		Msg("archive described")
	return res, nil
}

// SHA256File computes the SHA-256 checksum of a file and returns:
//   - the hex-encoded digest
//   - the file size in bytes
func SHA256File(path string) (sum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Archive opens a local file lazily for an agent upload.
type Archive struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

// Open is a backup.OpenStream. The file is closed once the stream ends or
// fails, or by Close.
func (a *Archive) Open(ctx context.Context) (backup.ChunkSource, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f != nil {
		return nil, fmt.Errorf("archive %q already open", a.path)
	}
	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	a.f = f
	return &fileSource{archive: a, src: backup.NewReaderSource(f, ReadChunkSize)}, nil
}

// Close releases the file if a stream is still open.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}

type fileSource struct {
	archive *Archive
	src     *backup.ReaderSource
}

func (s *fileSource) Next(ctx context.Context) ([]byte, error) {
	chunk, err := s.src.Next(ctx)
	if err != nil {
		if cerr := s.archive.Close(); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("file", s.archive.path).
				Msg("failed to close archive after upload")
		}
	}
	return chunk, err
}
