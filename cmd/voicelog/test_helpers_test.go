package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voicelog/internal/config"
	"voicelog/internal/daemon"
	"voicelog/internal/daemonrun"
	"voicelog/internal/ipc"
	"voicelog/internal/ledger"
	"voicelog/internal/logging"
	"voicelog/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *ledger.Store
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedWhisper(""))
	cfg.App.APIBind = ""
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	logger := logging.NewNop()
	rt, err := daemonrun.Build(context.Background(), cfg, logger, 0)
	if err != nil {
		t.Fatalf("daemonrun.Build: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	d, err := daemon.New(cfg, rt.Store, rt.Manager, nil, logger, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := cfg.SocketPath()
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		store:      rt.Store,
		daemon:     d,
		socketPath: socketPath,
		configPath: configPath,
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func recordEntry(t *testing.T, store *ledger.Store, rel string, stages map[string]ledger.StageResult) ledger.Entry {
	t.Helper()
	mtime := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := ledger.Entry{
		SourceIdentity: rel + "|7|" + "1740819600",
		SourceRelPath:  rel,
		SourceSize:     7,
		SourceModTime:  mtime,
		LocalPath:      filepath.Join("/library/raw", strings.ReplaceAll(rel, "/", "__")),
		Stages:         stages,
	}
	if err := store.Record(context.Background(), entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	return entry
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
