package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/agent"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/auth"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/executor"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/logx"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/provider"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/restore"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/snapshot"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/version"

	_ "github.com/Chapsvision-dev/cloud-backup-agent/internal/provider/azure"
	_ "github.com/Chapsvision-dev/cloud-backup-agent/internal/provider/dropbox"
)

// Test seams, overridden in unit tests.
var (
	loadConfig func() (config.Config, error)                                                = config.Load
	newStore   func(name string, cfg any) (provider.Store, error)                            = provider.New
	newAuth    func(config.Config) (auth.Provider, error)                                    = auth.New
	describe   func(snapshot.Options) (snapshot.Result, error)                               = snapshot.Describe
	restoreRun func(context.Context, backup.Agent, restore.Options) (restore.Result, error) = restore.Run
	beginLogin func(config.Config) (string, func(context.Context, string) error)            = oauth2Login
	stdin      io.Reader                                                                     = os.Stdin
	exit       func(int)                                                                     = os.Exit
)

const usage = `
Usage:
  agent list
  agent get      <backupID>
  agent upload   [file] [name]
  agent download [backupID] [localFile]
  agent delete   <backupID>
  agent login
  agent version | --version | -v
  agent help    | --help    | -h

Notes:
  - You can also set env vars:
      BACKUP_SOURCE, BACKUP_NAME, RESTORE_SOURCE, RESTORE_TARGET
  - Provider is selected with BACKUP_PROVIDER (default: dropbox).
  - Dropbox: run "agent login" once with DROPBOX_APP_KEY / DROPBOX_APP_SECRET set;
    the token is stored in DROPBOX_TOKEN_PATH and refreshed automatically.
  - Azure: AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_CONTAINER and AZURE_STORAGE_SAS
    (or a service principal / managed identity).
`

// main wires CLI -> config -> store + auth -> agent -> command.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Print(usage)
		exit(2)
	}
	action := strings.ToLower(args[0])

	// Handle version command
	if action == "version" || action == "--version" || action == "-v" {
		fmt.Println(version.String())
		exit(0)
	}

	// Handle help command
	if action == "help" || action == "--help" || action == "-h" {
		fmt.Print(usage)
		exit(0)
	}

	switch action {
	case "list", "get", "upload", "download", "delete", "login":
	default:
		fmt.Print(usage)
		exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Msg("config error")
		exit(1)
	}

	ctx := withSignals(context.Background())

	if action == "login" {
		runLogin(ctx, cfg)
		return
	}

	ag, remove, err := setupAgent(cfg)
	if err != nil {
		log.Error().Err(err).Str("provider", cfg.Provider).Msg("agent init error")
		exit(1)
	}
	defer remove()

	switch action {
	case "list":
		backups, err := ag.ListBackups(ctx)
		if err != nil {
			fail("list", err)
		}
		printList(os.Stdout, backups)

	case "get":
		id := requireArg(2)
		b, err := ag.GetBackup(ctx, id)
		if err != nil {
			fail("get", err)
		}
		printList(os.Stdout, []backup.AgentBackup{b})

	case "upload":
		source := pickArgOrEnv(2, "BACKUP_SOURCE", "")
		name := pickArgOrEnv(3, "BACKUP_NAME", "")

		start := time.Now()
		res, err := describe(snapshot.Options{LocalPath: source, Name: name})
		if err != nil {
			log.Error().Err(err).Str("action", "snapshot").Str("local", source).Msg("archive check failed")
			exit(1)
		}
		archive := snapshot.NewArchive(res.LocalPath)
		err = ag.UploadBackup(ctx, archive.Open, res.Descriptor)
		if cerr := archive.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("file", res.LocalPath).Msg("failed to close archive")
		}
		if err != nil {
			fail("upload", err)
		}
		log.Info().
			Str("action", "upload").
			Str("provider", cfg.Provider).
			Str("name", res.Descriptor.Name).
			Str("size", humanize.IBytes(uint64(res.Descriptor.Size))).
			Str("sha256", res.SHA256).
			Dur("elapsed_ms", time.Since(start)).
			Msg("backup OK")

	case "download":
		source := pickArgOrEnv(2, "RESTORE_SOURCE", "")
		target := pickArgOrEnv(3, "RESTORE_TARGET", "")

		start := time.Now()
		res, err := restoreRun(ctx, ag, restore.Options{BackupID: source, LocalPath: target})
		if err != nil {
			fail("download", err)
		}
		log.Info().
			Str("action", "download").
			Str("provider", cfg.Provider).
			Str("local", res.LocalPath).
			Str("size", humanize.IBytes(uint64(res.Bytes))).
			Dur("elapsed_ms", time.Since(start)).
			Msg("restore OK")

	case "delete":
		id := requireArg(2)
		if err := ag.DeleteBackup(ctx, id); err != nil {
			fail("delete", err)
		}
		log.Info().Str("action", "delete").Str("backup_id", id).Msg("delete OK")
	}
}

// setupAgent builds the configured agent and publishes it through a
// registry that reloads whenever the listeners are notified. The returned
// func unregisters the reload listener.
func setupAgent(cfg config.Config) (backup.Agent, func(), error) {
	store, err := newStore(cfg.Provider, cfg)
	if err != nil {
		return nil, nil, err
	}
	creds, err := newAuth(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("auth: %w", err)
	}
	pool := executor.New(cfg.Workers)
	ag := agent.New(store, creds, pool, agent.Options{
		Folder:      cfg.Folder,
		HostVersion: cfg.HostVersion,
	})

	registry := backup.NewRegistry(func() ([]backup.Agent, error) {
		return []backup.Agent{ag}, nil
	})
	listeners := backup.NewListeners()
	remove := listeners.Register(registry.Reload)
	listeners.Notify()
	if err := registry.Err(); err != nil {
		remove()
		return nil, nil, err
	}

	a, err := registry.Get(ag.Info().AgentID())
	if err != nil {
		remove()
		return nil, nil, err
	}
	log.Debug().
		Str("action", "agent_setup").
		Str("agent", a.Info().AgentID()).
		Strs("registered", registry.IDs()).
		Int("listeners", listeners.Len()).
		Int("workers", pool.Workers()).
		Msg("agent ready")
	return a, remove, nil
}

func runLogin(ctx context.Context, cfg config.Config) {
	if cfg.Provider != config.ProviderDropbox || cfg.Auth.Method != config.AuthOAuth2 {
		log.Error().
			Str("provider", cfg.Provider).
			Str("method", cfg.Auth.Method).
			Msg("login only applies to dropbox with oauth2 auth")
		exit(2)
	}
	url, complete := beginLogin(cfg)
	fmt.Printf("1. Open this URL and allow access:\n\n   %s\n\n2. Paste the authorization code: ", url)

	code, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Str("action", "login").Msg("reading code failed")
		exit(1)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		log.Error().Str("action", "login").Msg("no authorization code entered")
		exit(1)
	}
	if err := complete(ctx, code); err != nil {
		log.Error().Err(err).Str("action", "login").Msg("login failed")
		exit(1)
	}
	fmt.Println("Login OK.")
}

func oauth2Login(cfg config.Config) (string, func(context.Context, string) error) {
	a := auth.BeginLogin(auth.OAuth2Config(cfg.Dropbox), cfg.Dropbox.TokenPath)
	return a.URL, a.Complete
}

func printList(w io.Writer, backups []backup.AgentBackup) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tDATE")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s (%s)\n",
			b.BackupID, b.Name, humanize.IBytes(uint64(b.Size)),
			b.Date.UTC().Format(time.RFC3339), humanize.Time(b.Date))
	}
	_ = tw.Flush()
}

// fail logs a command error; a missing credential points at login.
func fail(action string, err error) {
	ev := log.Error().Err(err).Str("action", action)
	if errors.Is(err, backup.ErrMissingCredential) {
		ev.Msg("no stored credential: run \"agent login\" first")
	} else {
		ev.Msg(action + " failed")
	}
	exit(1)
}

func requireArg(idx int) string {
	if len(os.Args) > idx && strings.TrimSpace(os.Args[idx]) != "" {
		return os.Args[idx]
	}
	fmt.Print(usage)
	exit(2)
	return ""
}

func pickArgOrEnv(idx int, env string, def string) string {
	if len(os.Args) > idx && os.Args[idx] != "" {
		return os.Args[idx]
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func withSignals(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx
}
