package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCapture(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateSTT(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Session.HeartbeatSeconds < 0 {
		return errors.New("session.heartbeat_seconds must be zero or positive")
	}
	return nil
}

// ValidateSigner checks the settings only the privileged signer needs.
func (c *Config) ValidateSigner() error {
	if c.Ledger.RelayURL == "" {
		return errors.New("ledger.relay_url is required to run the signer")
	}
	if _, err := url.ParseRequestURI(c.Ledger.RelayURL); err != nil {
		return fmt.Errorf("ledger.relay_url: %w", err)
	}
	if c.Ledger.AccountID == "" {
		return errors.New("ledger.account_id is required to run the signer")
	}
	if c.Ledger.PrivateKey == "" {
		return errors.New("ledger.private_key is required. Set CALLSCRIBE_LEDGER_KEY or edit the config file")
	}
	if c.Ledger.TimeoutSeconds <= 0 {
		return errors.New("ledger.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCapture() error {
	if c.Capture.SegmentSeconds < minSegmentSeconds || c.Capture.SegmentSeconds > maxSegmentSeconds {
		return fmt.Errorf("capture.segment_seconds must be between %d and %d", minSegmentSeconds, maxSegmentSeconds)
	}
	if c.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if c.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if c.Capture.ChunkMillis <= 0 {
		return errors.New("capture.chunk_millis must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxAttempts < 1 {
		return errors.New("queue.max_attempts must be at least 1")
	}
	if c.Queue.MinSegmentBytes < 0 {
		return errors.New("queue.min_segment_bytes must be zero or positive")
	}
	return nil
}

func (c *Config) validateSTT() error {
	if c.STT.TimeoutSeconds <= 0 {
		return errors.New("stt.timeout_seconds must be positive")
	}
	switch c.STT.Backend {
	case "openai":
		if c.STT.OpenAIAPIKey == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/callscribe/config.toml"
			}
			return fmt.Errorf("stt.openai_api_key is required. Set OPENAI_API_KEY env var or edit %s (create with 'callscribe config init')", defaultPath)
		}
		if _, err := url.ParseRequestURI(c.STT.OpenAIBaseURL); err != nil {
			return fmt.Errorf("stt.openai_base_url: %w", err)
		}
	case "google":
	case "whisperx":
		if strings.TrimSpace(c.STT.WhisperXModel) == "" {
			return errors.New("stt.whisperx_model must be set")
		}
	default:
		return fmt.Errorf("stt.backend: unsupported value %q (want openai, google, or whisperx)", c.STT.Backend)
	}
	return nil
}

func (c *Config) validateProxy() error {
	if c.Proxy.RequestTimeoutSeconds <= 0 {
		return errors.New("proxy.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required when store.backend is redis")
		}
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or redis)", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("archive.bucket is required when archive.enabled is true")
	}
	if c.Archive.SpoolRetentionDays < 0 {
		return errors.New("archive.spool_retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
