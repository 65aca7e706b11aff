package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callscribe/internal/deps"
	"callscribe/internal/ipc"
	"callscribe/internal/logging"
	"callscribe/internal/session"
)

func TestSessionCommandsExternalFlow(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start", "--meeting", "weekly-sync", "--title", "Weekly Sync", "--external", "--transcribe"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Recording started")
	requireContains(t, out, "transcribing")
	requireContains(t, out, "0.0.777")

	if _, _, err := runCLI(t, []string{"start", "--meeting", "other", "--external"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected second start to fail while a session is active")
	}

	audio := filepath.Join(env.baseDir, "chunk.webm")
	if err := os.WriteFile(audio, []byte("fake webm payload"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	out, _, err = runCLI(t, []string{"capture", audio, "--end-ms", "5000"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	requireContains(t, out, "Queued segment 1")
	waitFor(t, 2*time.Second, func() bool { return env.processor.count() == 1 })

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "weekly-sync")

	out, _, err = runCLI(t, []string{"queue", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "running")

	out, _, err = runCLI(t, []string{"queue", "reset"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue reset: %v", err)
	}
	requireContains(t, out, "discarded 0 segment(s)")

	out, _, err = runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Session stopped")
	requireContains(t, out, "completed")

	if _, _, err := runCLI(t, []string{"stop"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected stop without an active session to fail")
	}

	out, _, err = runCLI(t, []string{"sessions"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	requireContains(t, out, "Weekly Sync")
	requireContains(t, out, "completed")
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "callscribe", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config written: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected existing config to be protected")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestRenderStatusOffline(t *testing.T) {
	var b strings.Builder
	renderStatus(&b, &ipc.StatusResponse{
		DatabasePath: "/tmp/callscribe.db",
		Backend:      "openai",
		Dependencies: []deps.Status{{Name: "FFmpeg", Command: "ffmpeg", Detail: "not found"}},
	}, false)
	out := b.String()
	requireContains(t, out, "Not running")
	requireContains(t, out, "0/1 available")
	requireContains(t, out, "[ERROR] not found")
	if strings.Contains(out, "\x1b[") {
		t.Fatal("expected no ANSI codes without colorize")
	}
}

func TestRenderStatusPausedQueue(t *testing.T) {
	status := &ipc.StatusResponse{Running: true, PID: 42}
	status.Queue.Paused = true
	status.Queue.LastError = "stt unavailable"
	status.Queue.HeadSession = "0123456789abcdef"
	status.Queue.HeadSequence = 7
	status.Queue.HeadAttempts = 3
	status.Active = &session.Session{ID: "0123456789abcdef", Meeting: session.MeetingInfo{MeetingID: "m"}, State: session.StateRecording}

	var b strings.Builder
	renderStatus(&b, status, false)
	out := b.String()
	requireContains(t, out, "Paused: stt unavailable")
	requireContains(t, out, "segment 7 of 01234567 after 3 attempts")
	requireContains(t, out, "Not connected")
}

func TestPrintEventSortsFields(t *testing.T) {
	var b strings.Builder
	printEvent(&b, logging.Event{
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Level:     "warn",
		Message:   "segment attempt failed",
		Component: "queue",
		Fields:    map[string]string{"z": "1", "a": "2"},
	})
	out := b.String()
	requireContains(t, out, "WARN  [queue] segment attempt failed a=2 z=1")
}
