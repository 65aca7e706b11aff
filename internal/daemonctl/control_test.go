package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"callscribe/internal/daemonctl"
	"callscribe/internal/deps"
	"callscribe/internal/testsupport"
)

func TestBuildDependencySummary(t *testing.T) {
	summary := daemonctl.BuildDependencySummary(nil)
	if summary.Severity != "info" {
		t.Fatalf("expected info severity for empty list, got %q", summary.Severity)
	}

	summary = daemonctl.BuildDependencySummary([]deps.Status{
		{Name: "FFmpeg", Available: true},
		{Name: "uvx", Optional: true},
	})
	if summary.Severity != "warn" || summary.Available != 1 || summary.MissingOptional != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	summary = daemonctl.BuildDependencySummary([]deps.Status{{Name: "FFmpeg"}})
	if summary.Severity != "error" || summary.MissingRequired != 1 {
		t.Fatalf("expected missing required dependency to be an error: %+v", summary)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "callscribe.pid")

	pid, err := daemonctl.ReadPID(path)
	if err != nil || pid != 0 {
		t.Fatalf("expected zero pid for missing file, got %d (%v)", pid, err)
	}

	if err := os.WriteFile(path, []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	pid, err = daemonctl.ReadPID(path)
	if err != nil || pid != 4242 {
		t.Fatalf("expected pid 4242, got %d (%v)", pid, err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}

func TestOfflineDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	socket := cfg.SocketPath()

	alive, pid, err := daemonctl.ProcessInfo(socket)
	if err != nil || alive || pid != 0 {
		t.Fatalf("expected offline daemon, got alive=%v pid=%d err=%v", alive, pid, err)
	}
	if _, err := daemonctl.StopAndTerminate(socket, cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := daemonctl.WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("expected immediate shutdown confirmation, got %v", err)
	}

	snapshot, err := daemonctl.BuildStatusSnapshot(context.Background(), socket, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Running {
		t.Fatal("expected offline snapshot")
	}
	if snapshot.DatabasePath != cfg.DatabasePath() || len(snapshot.Dependencies) == 0 {
		t.Fatalf("unexpected offline snapshot: %+v", snapshot)
	}
}
