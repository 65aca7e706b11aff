package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"callscribe/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeyAndExpandsPaths(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "callscribe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.STT.OpenAIAPIKey != "test-key" {
		t.Fatalf("expected OpenAI key from env, got %q", cfg.STT.OpenAIAPIKey)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.MinSegmentBytes != 1000 {
		t.Fatalf("expected min segment bytes 1000, got %d", cfg.Queue.MinSegmentBytes)
	}
	if cfg.SegmentInterval() != 25*time.Second {
		t.Fatalf("unexpected segment interval: %s", cfg.SegmentInterval())
	}
	if cfg.ProxyTimeout() != 30*time.Second {
		t.Fatalf("unexpected proxy timeout: %s", cfg.ProxyTimeout())
	}
	if cfg.SocketPath() != filepath.Join(wantState, "callscribe.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if cfg.FFmpegBinary() != "ffmpeg" {
		t.Fatalf("expected ffmpeg from PATH by default, got %q", cfg.FFmpegBinary())
	}
}

func TestLoadFFmpegBinary(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "test-key")
	dir := t.TempDir()

	cases := map[string]string{
		"ffmpeg-7":           "ffmpeg-7",
		"~/bin/ffmpeg":       filepath.Join(home, "bin", "ffmpeg"),
		"/opt/ff/bin/ffmpeg": "/opt/ff/bin/ffmpeg",
		"  ":                 "ffmpeg",
	}
	for value, want := range cases {
		configPath := filepath.Join(dir, "config.toml")
		contents := "[capture]\nffmpeg_binary = \"" + value + "\"\n"
		if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg, _, _, err := config.Load(configPath)
		if err != nil {
			t.Fatalf("Load(%q) returned error: %v", value, err)
		}
		if got := cfg.FFmpegBinary(); got != want {
			t.Fatalf("ffmpeg_binary %q resolved to %q, want %q", value, got, want)
		}
	}
}

func TestLoadReadsFileAndDotEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	contents := `
[paths]
state_dir = "` + filepath.Join(dir, "state") + `"

[capture]
segment_seconds = 10

[stt]
backend = "whisperx"

[store]
backend = "redis"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_URL=redis://localhost:6379/2\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	os.Unsetenv("REDIS_URL")
	t.Cleanup(func() { os.Unsetenv("REDIS_URL") })

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected file %q to be loaded, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Capture.SegmentSeconds != 10 {
		t.Fatalf("expected segment seconds 10, got %d", cfg.Capture.SegmentSeconds)
	}
	if cfg.Store.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("expected redis url from .env, got %q", cfg.Store.RedisURL)
	}
	if cfg.STT.Backend != "whisperx" {
		t.Fatalf("unexpected backend %q", cfg.STT.Backend)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "OPENAI_API_KEY") {
		t.Fatalf("sample config missing OpenAI key hint: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Fatalf("expected sample max attempts 3, got %d", cfg.Queue.MaxAttempts)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.STT.OpenAIAPIKey = "key"
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"segment too short", func(c *config.Config) { c.Capture.SegmentSeconds = 1 }},
		{"segment too long", func(c *config.Config) { c.Capture.SegmentSeconds = 600 }},
		{"zero attempts", func(c *config.Config) { c.Queue.MaxAttempts = 0 }},
		{"missing openai key", func(c *config.Config) { c.STT.OpenAIAPIKey = "" }},
		{"unknown backend", func(c *config.Config) { c.STT.Backend = "vosk" }},
		{"zero proxy timeout", func(c *config.Config) { c.Proxy.RequestTimeoutSeconds = 0 }},
		{"redis without url", func(c *config.Config) { c.Store.Backend = "redis" }},
		{"archive without bucket", func(c *config.Config) { c.Archive.Enabled = true }},
		{"negative spool retention", func(c *config.Config) { c.Archive.SpoolRetentionDays = -1 }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"negative heartbeat", func(c *config.Config) { c.Session.HeartbeatSeconds = -1 }},
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateSignerRequiresLedgerSettings(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ValidateSigner(); err == nil {
		t.Fatal("expected error without relay url")
	}
	cfg.Ledger.RelayURL = "https://relay.example.com"
	cfg.Ledger.AccountID = "0.0.1234"
	cfg.Ledger.PrivateKey = strings.Repeat("ab", 32)
	if err := cfg.ValidateSigner(); err != nil {
		t.Fatalf("expected signer config to validate, got %v", err)
	}
}
