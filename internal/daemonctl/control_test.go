package daemonctl_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"voicelog/internal/daemonctl"
	"voicelog/internal/testsupport"
)

func TestArgs(t *testing.T) {
	got := daemonctl.Args(daemonctl.LaunchOptions{
		SocketPath: "/tmp/v.sock",
		ConfigPath: "/etc/voicelog.toml",
		Diagnostic: true,
		LogLevel:   "debug",
	})
	want := "daemon --socket /tmp/v.sock --config /etc/voicelog.toml --diagnostic --log-level debug"
	if strings.Join(got, " ") != want {
		t.Fatalf("Args = %q, want %q", strings.Join(got, " "), want)
	}
	if got := daemonctl.Args(daemonctl.LaunchOptions{}); len(got) != 1 || got[0] != "daemon" {
		t.Fatalf("unexpected bare args: %v", got)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := filepath.Join(t.TempDir(), "missing.sock")
	if _, err := daemonctl.StopAndTerminate(socket, cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, pid, err := daemonctl.ProcessInfo(socket)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v %d %v", alive, pid, err)
	}
	if err := daemonctl.WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	if pid, err := daemonctl.ReadPID(filepath.Join(dir, "none.pid")); err != nil || pid != 0 {
		t.Fatalf("missing pid file: %d %v", pid, err)
	}
	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("nope\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := daemonctl.ReadPID(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestForceKillProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	pidPath := filepath.Join(t.TempDir(), "voicelog.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	killed, err := daemonctl.ForceKillProcess(pidPath, 0)
	if err != nil {
		t.Fatalf("ForceKillProcess: %v", err)
	}
	if killed != cmd.Process.Pid {
		t.Fatalf("killed pid %d, want %d", killed, cmd.Process.Pid)
	}
	if err := cmd.Wait(); err == nil {
		t.Fatal("expected sleep to be killed")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, got %v", err)
	}
}

func TestForceKillRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "voicelog.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}
