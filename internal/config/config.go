package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	SpoolDir string `toml:"spool_dir"`
}

// Daemon contains the HTTP API settings shared by the daemon and the signer.
type Daemon struct {
	APIBind   string `toml:"api_bind"`
	APISecret string `toml:"api_secret"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `toml:"cors_origins"`
}

// Capture contains audio capture and segmentation settings.
type Capture struct {
	// FFmpegBinary is a command name looked up on PATH or a path to ffmpeg.
	FFmpegBinary string `toml:"ffmpeg_binary"`

	Format         string `toml:"format"`
	Device         string `toml:"device"`
	SampleRate     int    `toml:"sample_rate"`
	Channels       int    `toml:"channels"`
	SegmentSeconds int    `toml:"segment_seconds"`
	ChunkMillis    int    `toml:"chunk_millis"`
}

// Queue contains segment queue retry and drop policy.
type Queue struct {
	MaxAttempts     int  `toml:"max_attempts"`
	MinSegmentBytes int  `toml:"min_segment_bytes"`
	Journal         bool `toml:"journal"`
}

// STT contains speech-to-text backend configuration.
type STT struct {
	Backend               string   `toml:"backend"`
	Language              string   `toml:"language"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`
	SupportedFormats      []string `toml:"supported_formats"`
	OpenAIBaseURL         string   `toml:"openai_base_url"`
	OpenAIAPIKey          string   `toml:"openai_api_key"`
	OpenAIModel           string   `toml:"openai_model"`
	GoogleCredentialsFile string   `toml:"google_credentials_file"`
	WhisperXModel         string   `toml:"whisperx_model"`
	WhisperXCUDA          bool     `toml:"whisperx_cuda"`
}

// Proxy contains privileged operation proxy settings.
type Proxy struct {
	RequestTimeoutSeconds int `toml:"request_timeout"`
}

// Ledger contains the privileged signer's ledger relay settings.
type Ledger struct {
	RelayURL       string `toml:"relay_url"`
	AccountID      string `toml:"account_id"`
	PrivateKey     string `toml:"private_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Session contains recording session behaviour.
type Session struct {
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	TopicMemoPrefix  string `toml:"topic_memo_prefix"`
}

// Store selects where topic mappings and sessions are persisted.
type Store struct {
	Backend        string `toml:"backend"`
	RedisURL       string `toml:"redis_url"`
	RedisKeyPrefix string `toml:"redis_key_prefix"`
}

// Archive contains optional segment audio archival settings.
type Archive struct {
	Enabled         bool   `toml:"enabled"`
	Bucket          string `toml:"bucket"`
	Prefix          string `toml:"prefix"`
	CredentialsFile string `toml:"credentials_file"`

	// SpoolRetentionDays bounds how long spooled session directories are
	// kept. Zero keeps them forever.
	SpoolRetentionDays int `toml:"spool_retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	QueuePaused    bool   `toml:"queue_paused"`
	Sessions       bool   `toml:"sessions"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for callscribe.
//
// Configuration sections by subsystem:
//   - Paths: state, log and spool directories
//   - Daemon: HTTP API bind address and bearer secret
//   - Capture: ffmpeg capture source and segment cadence
//   - Queue: retry bound and undersized segment threshold
//   - STT: speech-to-text backend selection and credentials
//   - Proxy: privileged round-trip timeout
//   - Ledger: relay used by the privileged signer
//   - Session: heartbeat cadence and topic memo prefix
//   - Store: sqlite or redis persistence for topics and sessions
//   - Archive: optional GCS archival of segment audio
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Daemon        Daemon        `toml:"daemon"`
	Capture       Capture       `toml:"capture"`
	Queue         Queue         `toml:"queue"`
	STT           STT           `toml:"stt"`
	Proxy         Proxy         `toml:"proxy"`
	Ledger        Ledger        `toml:"ledger"`
	Session       Session       `toml:"session"`
	Store         Store         `toml:"store"`
	Archive       Archive       `toml:"archive"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/callscribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotEnv populates unset environment variables from a .env file in dir.
// Variables already present in the environment win.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load env file %s: %w", envPath, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("callscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.SpoolDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the unix socket the daemon serves IPC on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "callscribe.sock")
}

// LockPath returns the single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "callscribe.lock")
}

// PIDPath returns the daemon pid file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "callscribe.pid")
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "callscribe.db")
}

// SegmentInterval returns the segmenter cut cadence.
func (c *Config) SegmentInterval() time.Duration {
	return time.Duration(c.Capture.SegmentSeconds) * time.Second
}

// ProxyTimeout returns the privileged round-trip bound.
func (c *Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.RequestTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the session heartbeat cadence; zero disables heartbeats.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Session.HeartbeatSeconds) * time.Second
}

// SpoolRetention returns how long spooled sessions are kept; zero keeps them.
func (c *Config) SpoolRetention() time.Duration {
	return time.Duration(c.Archive.SpoolRetentionDays) * 24 * time.Hour
}

// FFmpegBinary returns the ffmpeg executable used for capture.
func (c *Config) FFmpegBinary() string {
	if c.Capture.FFmpegBinary == "" {
		return defaultFFmpegBinary
	}
	return c.Capture.FFmpegBinary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
