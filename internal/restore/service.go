// Package restore downloads a stored backup to a local file.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
)

// Options controls the restore workflow.
type Options struct {
	// BackupID is the id reported by list (e.g. "backups%2Fbackup-2025-09-08t15-42-01z.tar").
	BackupID string
	// LocalPath is where the archive is written. If empty, defaults to
	// "./<file name of the backup>".
	LocalPath string
}

// Result describes the restored file.
type Result struct {
	LocalPath string
	Bytes     int64
}

// Run downloads the backup through agent into LocalPath. Data is written to
// "<LocalPath>.part" first and renamed once complete, so an interrupted
// download never leaves a truncated archive under the final name.
func Run(ctx context.Context, agent backup.Agent, opt Options) (Result, error) {
	var res Result

	id := strings.TrimSpace(opt.BackupID)
	if id == "" {
		return res, fmt.Errorf("restore: backup id is empty (provide it as CLI arg)")
	}

	local := strings.TrimSpace(opt.LocalPath)
	if local == "" {
		p, err := backup.PathFromID(id)
		if err != nil {
			return res, err
		}
		local = "./" + filepath.Base(p)
	}
	local = filepath.Clean(local)
	if err := ensureParentDir(local); err != nil {
		return res, err
	}

	start := time.Now()
	log.Info().
		Str("action", "download").
		Str("agent", agent.Info().AgentID()).
		Str("backup_id", id).
		Str("local", local).
		Msg("starting download")

	src, err := agent.DownloadBackup(ctx, id)
	if err != nil {
		return res, fmt.Errorf("download from agent: %w", err)
	}
	n, err := writeToFile(ctx, local, src)
	if err != nil {
		log.Error().
			Err(err).
			Str("action", "download").
			Str("backup_id", id).
			Str("local", local).
			Dur("elapsed_ms", time.Since(start)).
			Msg("writing archive failed")
		return res, fmt.Errorf("write %q: %w", local, err)
	}

	log.Info().
		Str("action", "download").
		Str("backup_id", id).
		Str("local", local).
		Int64("bytes", n).
		Dur("elapsed_ms", time.Since(start)).
		Msg("download OK")

	res.LocalPath = local
	res.Bytes = n
	return res, nil
}

func writeToFile(ctx context.Context, localFile string, src backup.ChunkSource) (int64, error) {
	tmp := localFile + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := backup.WriteTo(ctx, src, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if rerr := os.Remove(tmp); rerr != nil {
			log.Warn().Err(rerr).Str("action", "restore_write").Str("file", tmp).Msg("remove partial file failed")
		}
		return n, err
	}
	return n, os.Rename(tmp, localFile)
}

// ensureParentDir fails if the directory of path does not exist.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("directory %q does not exist", dir)
	} else if err != nil {
		return fmt.Errorf("stat %q: %w", dir, err)
	}
	return nil
}
