package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Chapsvision-dev/cloud-backup-agent/internal/auth"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/backup"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/config"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/provider"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/restore"
	"github.com/Chapsvision-dev/cloud-backup-agent/internal/snapshot"
)

/* ----------------------------- test harness ----------------------------- */

type exitPanic struct{ code int }

func patchExit(t *testing.T) func() {
	t.Helper()
	prev := exit
	exit = func(code int) { panic(exitPanic{code}) }
	return func() { exit = prev }
}

func mustExitCode(t *testing.T, fn func()) (code int) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected os.Exit interception, got no panic")
		}
		if ep, ok := r.(exitPanic); ok {
			code = ep.code
			return
		}
		t.Fatalf("unexpected panic: %#v", r)
	}()
	fn()
	return 0
}

func withArgs(t *testing.T, args []string) func() {
	t.Helper()
	prev := os.Args
	os.Args = append([]string{prev[0]}, args...)
	return func() { os.Args = prev }
}

func withEnv(t *testing.T, kv map[string]string) func() {
	t.Helper()
	prev := map[string]*string{}
	for k, v := range kv {
		if old, ok := os.LookupEnv(k); ok {
			tmp := old
			prev[k] = &tmp
		} else {
			prev[k] = nil
		}
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("setenv %s: %v", k, err)
		}
	}
	return func() {
		for k, v := range prev {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	}
}

func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	var buf bytes.Buffer
	r, w, _ := os.Pipe()
	os.Stdout = w

	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

func resetSeams() {
	loadConfig = config.Load
	newStore = provider.New
	newAuth = auth.New
	describe = snapshot.Describe
	restoreRun = restore.Run
	beginLogin = oauth2Login
	stdin = os.Stdin
}

// stubDeps points every seam at in-memory fakes and returns the store.
func stubDeps(t *testing.T, cfg config.Config) *memStore {
	t.Helper()
	store := &memStore{files: map[string][]byte{}}
	loadConfig = func() (config.Config, error) { return cfg, nil }
	newStore = func(string, any) (provider.Store, error) { return store, nil }
	newAuth = func(config.Config) (auth.Provider, error) { return staticCreds("tok"), nil }
	return store
}

func testConfig() config.Config {
	return config.Config{
		Provider: config.ProviderDropbox,
		Folder:   "backups",
		Auth:     config.AuthConfig{Method: config.AuthToken},
		Workers:  2,
	}
}

/* --------------------------------- tests -------------------------------- */

// 1) No args -> prints usage, exit code 2
func TestUsage_NoArgs(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{})()

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	out := restoreOut()

	if code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage on stdout, got: %q", out)
	}
}

// 2) Unknown command -> usage, exit 2, config never loaded
func TestUsage_UnknownCommand(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"backup"})()

	loaded := false
	loadConfig = func() (config.Config, error) {
		loaded = true
		return config.Config{}, nil
	}

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	_ = restoreOut()

	if code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
	if loaded {
		t.Fatal("config should not be loaded for an unknown command")
	}
}

// 3) version -> exit 0 with the binary name
func TestVersion(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"--version"})()

	restoreOut := captureStdout(t)
	code := mustExitCode(t, func() { main() })
	out := restoreOut()

	if code != 0 {
		t.Fatalf("want exit 0, got %d", code)
	}
	if !strings.HasPrefix(out, "cloud-backup-agent ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}

// 4) Config error -> exit 1
func TestConfigError(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"list"})()

	loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("bad env") }

	if code := mustExitCode(t, func() { main() }); code != 1 {
		t.Fatalf("want exit 1, got %d", code)
	}
}

// 5) Upload then list through the in-memory store
func TestUploadThenList(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	store := stubDeps(t, testConfig())

	local := filepath.Join(t.TempDir(), "archive.tar")
	if err := os.WriteFile(local, []byte("tarball bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	func() {
		defer withArgs(t, []string{"upload", local, "Nightly.tar"})()
		main()
	}()

	if got := string(store.get("/backups/nightly.tar")); got != "tarball bytes" {
		t.Fatalf("uploaded content mismatch: %q", got)
	}

	defer withArgs(t, []string{"list"})()
	restoreOut := captureStdout(t)
	main()
	out := restoreOut()

	if !strings.Contains(out, backup.IDFromPath("/backups/nightly.tar")) || !strings.Contains(out, "Nightly.tar") {
		t.Fatalf("list output missing backup: %q", out)
	}
}

// 6) Upload: precedence Arg > Env, and options are passed to snapshot.Describe
func TestUpload_ArgOverridesEnv(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"upload", "SRC_ARG"})()
	defer withEnv(t, map[string]string{
		"BACKUP_SOURCE": "SRC_ENV",
		"BACKUP_NAME":   "NAME_ENV",
	})()
	stubDeps(t, testConfig())

	var got snapshot.Options
	describe = func(opts snapshot.Options) (snapshot.Result, error) {
		got = opts
		return snapshot.Result{}, errors.New("stop")
	}

	code := mustExitCode(t, func() { main() })
	if code != 1 {
		t.Fatalf("want exit 1 due to injected snapshot error, got %d", code)
	}
	if got.LocalPath != "SRC_ARG" || got.Name != "NAME_ENV" {
		t.Fatalf("opts mismatch: got LocalPath=%q Name=%q", got.LocalPath, got.Name)
	}
}

// 7) Download: uses ENV when no args; values are passed to restore.Run
func TestDownload_UsesEnvWhenNoArgs(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"download"})()
	defer withEnv(t, map[string]string{
		"RESTORE_SOURCE": "RK_ENV",
		"RESTORE_TARGET": "LF_ENV",
	})()
	stubDeps(t, testConfig())

	var got restore.Options
	var gotAgent backup.Agent
	restoreRun = func(_ context.Context, a backup.Agent, opts restore.Options) (restore.Result, error) {
		got, gotAgent = opts, a
		return restore.Result{}, errors.New("stop")
	}

	code := mustExitCode(t, func() { main() })
	if code != 1 {
		t.Fatalf("want exit 1 due to injected restore error, got %d", code)
	}
	if got.BackupID != "RK_ENV" || got.LocalPath != "LF_ENV" {
		t.Fatalf("opts mismatch: got BackupID=%q LocalPath=%q", got.BackupID, got.LocalPath)
	}
	if gotAgent == nil || gotAgent.Info().AgentID() != "mem.one" {
		t.Fatalf("unexpected agent: %#v", gotAgent)
	}
}

// 8) get/delete require an id
func TestIDRequired(t *testing.T) {
	for _, action := range []string{"get", "delete"} {
		t.Run(action, func(t *testing.T) {
			resetSeams()
			defer patchExit(t)()
			defer withArgs(t, []string{action})()
			stubDeps(t, testConfig())

			restoreOut := captureStdout(t)
			code := mustExitCode(t, func() { main() })
			_ = restoreOut()
			if code != 2 {
				t.Fatalf("want exit 2, got %d", code)
			}
		})
	}
}

// 9) delete removes the object addressed by the id
func TestDelete(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	store := stubDeps(t, testConfig())
	store.put("/backups/old.tar", []byte("x"))

	defer withArgs(t, []string{"delete", backup.IDFromPath("/backups/old.tar")})()
	main()

	if store.get("/backups/old.tar") != nil {
		t.Fatal("backup still present after delete")
	}
}

// 10) Missing stored credential -> exit 1
func TestMissingCredential(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"list"})()
	stubDeps(t, testConfig())
	newAuth = func(config.Config) (auth.Provider, error) { return noCreds{}, nil }

	if code := mustExitCode(t, func() { main() }); code != 1 {
		t.Fatalf("want exit 1, got %d", code)
	}
}

// 11) login reads the code from stdin and completes the flow
func TestLogin(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"login"})()

	cfg := testConfig()
	cfg.Auth.Method = config.AuthOAuth2
	stubDeps(t, cfg)
	stdin = strings.NewReader("  the-code \n")

	var gotCode string
	beginLogin = func(config.Config) (string, func(context.Context, string) error) {
		return "https://example.test/authorize", func(_ context.Context, code string) error {
			gotCode = code
			return nil
		}
	}

	restoreOut := captureStdout(t)
	main()
	out := restoreOut()

	if gotCode != "the-code" {
		t.Fatalf("want trimmed code, got %q", gotCode)
	}
	if !strings.Contains(out, "https://example.test/authorize") {
		t.Fatalf("authorize URL not printed: %q", out)
	}
}

// 12) login is rejected for stores without an interactive flow
func TestLogin_WrongProvider(t *testing.T) {
	resetSeams()
	defer patchExit(t)()
	defer withArgs(t, []string{"login"})()

	cfg := testConfig()
	cfg.Provider = config.ProviderAzure
	cfg.Auth.Method = config.AuthSAS
	stubDeps(t, cfg)

	if code := mustExitCode(t, func() { main() }); code != 2 {
		t.Fatalf("want exit 2, got %d", code)
	}
}

// 13) setupAgent publishes the agent through the registry; unknown providers list the known ones
func TestSetupAgent(t *testing.T) {
	resetSeams()
	stubDeps(t, testConfig())

	a, remove, err := setupAgent(testConfig())
	if err != nil {
		t.Fatalf("setupAgent: %v", err)
	}
	defer remove()
	if id := a.Info().AgentID(); id != "mem.one" {
		t.Fatalf("want agent mem.one, got %q", id)
	}

	newStore = provider.New
	cfg := testConfig()
	cfg.Provider = "ftp"
	_, _, err = setupAgent(cfg)
	if err == nil || !strings.Contains(err.Error(), "available: azure, dropbox") {
		t.Fatalf("want error listing providers, got %v", err)
	}
}

// 14) pickArgOrEnv: precedence Arg > Env > Default
func TestPickArgOrEnv_Precedence(t *testing.T) {
	defer withArgs(t, []string{"subcmd", "ARGVAL"})()
	defer withEnv(t, map[string]string{"MY_ENV": "ENVVAL"})()

	got := pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "ARGVAL" {
		t.Fatalf("want ARGVAL, got %q", got)
	}

	// Without arg -> gets ENV
	defer withArgs(t, []string{"subcmd"})()
	got = pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "ENVVAL" {
		t.Fatalf("want ENVVAL, got %q", got)
	}

	// Without arg and env -> default
	defer withEnv(t, map[string]string{"MY_ENV": ""})()
	got = pickArgOrEnv(2, "MY_ENV", "DEFVAL")
	if got != "DEFVAL" {
		t.Fatalf("want DEFVAL, got %q", got)
	}
}

// 15) withSignals: cancels context on SIGINT
func TestWithSignals_CancelsOnInterrupt(t *testing.T) {
	ctx := withSignals(context.Background())

	// Send SIGINT after a short delay to ensure signal.Notify has been registered.
	time.AfterFunc(100*time.Millisecond, func() {
		p, _ := os.FindProcess(os.Getpid())
		_ = p.Signal(os.Interrupt)
	})

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after os.Interrupt")
	}

	signal.Reset(os.Interrupt)
}

/* ------------------------------- test fakes ------------------------------ */

type staticCreds string

func (c staticCreds) Acquire(context.Context) (string, error) { return string(c), nil }

type noCreds struct{}

func (noCreds) Acquire(context.Context) (string, error) { return "", auth.ErrNoToken }

// memStore keeps objects in memory keyed by lower-cased path.
type memStore struct {
	mu    sync.Mutex
	files map[string][]byte
	names map[string]string
}

func (s *memStore) Name() string { return "mem" }

func (s *memStore) Info() backup.Info {
	return backup.Info{Domain: "mem", Name: "Memory", UniqueID: "one"}
}

func (s *memStore) Connect(context.Context, string) (provider.Remote, error) {
	return &memRemote{store: s}, nil
}

func (s *memStore) put(path string, data []byte) provider.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.names == nil {
		s.names = map[string]string{}
	}
	key := strings.ToLower(path)
	s.files[key] = append([]byte(nil), data...)
	s.names[key] = path
	return s.entry(key)
}

func (s *memStore) get(path string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files[strings.ToLower(path)]
}

func (s *memStore) entry(key string) provider.Entry {
	display := s.names[key]
	return provider.Entry{
		Kind:           provider.KindFile,
		Name:           filepath.Base(display),
		PathLower:      key,
		PathDisplay:    display,
		Size:           int64(len(s.files[key])),
		ServerModified: time.Date(2025, 9, 8, 15, 42, 1, 0, time.UTC),
	}
}

type memRemote struct {
	store *memStore
}

func (r *memRemote) ListFolder(_ context.Context, path string) (provider.Page, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	prefix := strings.ToLower(path) + "/"
	var page provider.Page
	for key := range r.store.files {
		if strings.HasPrefix(key, prefix) {
			page.Entries = append(page.Entries, r.store.entry(key))
		}
	}
	return page, nil
}

func (r *memRemote) ListFolderContinue(context.Context, string) (provider.Page, error) {
	return provider.Page{}, errors.New("no more pages")
}

func (r *memRemote) Upload(_ context.Context, path string, data []byte) (provider.Entry, error) {
	return r.store.put(path, data), nil
}

func (r *memRemote) UploadSessionStart(context.Context, string, []byte) (string, error) {
	return "", errors.New("sessions not supported")
}

func (r *memRemote) UploadSessionAppend(context.Context, string, uint64, []byte) error {
	return errors.New("sessions not supported")
}

func (r *memRemote) UploadSessionFinish(context.Context, string, uint64, string, []byte) (provider.Entry, error) {
	return provider.Entry{}, errors.New("sessions not supported")
}

func (r *memRemote) Download(_ context.Context, path string) (provider.Entry, []byte, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := strings.ToLower(path)
	data, ok := r.store.files[key]
	if !ok {
		return provider.Entry{}, nil, errors.New("not_found")
	}
	return r.store.entry(key), data, nil
}

func (r *memRemote) Delete(_ context.Context, path string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := strings.ToLower(path)
	if _, ok := r.store.files[key]; !ok {
		return errors.New("not_found")
	}
	delete(r.store.files, key)
	return nil
}

func (r *memRemote) GetMetadata(_ context.Context, path string) (provider.Entry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := strings.ToLower(path)
	if _, ok := r.store.files[key]; !ok {
		return provider.Entry{}, errors.New("not_found")
	}
	return r.store.entry(key), nil
}
