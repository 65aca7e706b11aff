package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"callscribe/internal/config"
	"callscribe/internal/logging"
	"callscribe/internal/services"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "callscribe.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "INFO") || !strings.Contains(string(content), "hello") {
		t.Fatalf("unexpected log content %q", content)
	}
}

func TestConsoleLoggerPrefixesComponentAndSession(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "queue")
	logger.Info("segment published",
		logging.String(logging.FieldSessionID, "sess-1"),
		logging.Int64(logging.FieldSegmentSeq, 4),
		logging.String(logging.FieldTopicID, "0.0.77"),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "INFO queue [sess-1 #4]: segment published") {
		t.Fatalf("unexpected console prefix: %q", line)
	}
	if !strings.Contains(line, "topic_id=0.0.77") {
		t.Fatalf("expected topic attribute, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerRenamesKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(content, &record); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if record["level"] != "info" || record["k"] != "v" {
		t.Fatalf("unexpected record %#v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key, got %#v", record)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	hub := logging.NewEventHub(8)
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{filepath.Join(t.TempDir(), "ctx.log")}, Hub: hub})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithSessionID(context.Background(), "sess-9")
	ctx = services.WithSegmentSequence(ctx, 3)
	ctx = services.WithRequestID(ctx, "req-xyz")
	logging.WithContext(ctx, logger).Info("contextual log")

	events := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.SessionID != "sess-9" {
		t.Fatalf("session id = %q", evt.SessionID)
	}
	if evt.Fields[logging.FieldSegmentSeq] != "3" {
		t.Fatalf("segment seq = %q", evt.Fields[logging.FieldSegmentSeq])
	}
	if evt.Fields[logging.FieldCorrelationID] != "req-xyz" {
		t.Fatalf("correlation id = %q", evt.Fields[logging.FieldCorrelationID])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	hub := logging.NewEventHub(4)
	logger, err := logging.New(logging.Options{Format: "console", OutputPaths: []string{filepath.Join(t.TempDir(), "warn.log")}, Hub: hub})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "heartbeat skipped", "heartbeat_failed")

	evt := hub.Tail(1)[0]
	if evt.Level != "WARN" {
		t.Fatalf("level = %q", evt.Level)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if evt.Fields[key] == "" {
			t.Fatalf("expected %s to be populated, got %#v", key, evt.Fields)
		}
	}
}
