package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDaemon()
	if err := c.normalizeCapture(); err != nil {
		return err
	}
	if err := c.normalizeSTT(); err != nil {
		return err
	}
	c.normalizeLedger()
	c.normalizeStore()
	if err := c.normalizeArchive(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SpoolDir) == "" {
		c.Paths.SpoolDir = defaultSpoolDir
	}
	if c.Paths.SpoolDir, err = expandPath(c.Paths.SpoolDir); err != nil {
		return fmt.Errorf("paths.spool_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDaemon() {
	c.Daemon.APIBind = strings.TrimSpace(c.Daemon.APIBind)
	if c.Daemon.APIBind == "" {
		c.Daemon.APIBind = defaultAPIBind
	}
	origins := c.Daemon.CORSOrigins[:0]
	for _, o := range c.Daemon.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.Daemon.CORSOrigins = origins
	if c.Daemon.APISecret == "" {
		if value, ok := os.LookupEnv("CALLSCRIBE_API_SECRET"); ok {
			c.Daemon.APISecret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeCapture() error {
	c.Capture.FFmpegBinary = strings.TrimSpace(c.Capture.FFmpegBinary)
	switch {
	case c.Capture.FFmpegBinary == "":
		c.Capture.FFmpegBinary = defaultFFmpegBinary
	case strings.HasPrefix(c.Capture.FFmpegBinary, "~") || strings.ContainsRune(c.Capture.FFmpegBinary, os.PathSeparator):
		expanded, err := expandPath(c.Capture.FFmpegBinary)
		if err != nil {
			return fmt.Errorf("capture.ffmpeg_binary: %w", err)
		}
		c.Capture.FFmpegBinary = expanded
	}
	c.Capture.Format = strings.TrimSpace(c.Capture.Format)
	if c.Capture.Format == "" {
		c.Capture.Format = defaultCaptureFormat
	}
	c.Capture.Device = strings.TrimSpace(c.Capture.Device)
	if c.Capture.Device == "" {
		c.Capture.Device = defaultCaptureDevice
	}
	return nil
}

func (c *Config) normalizeSTT() error {
	c.STT.Backend = strings.ToLower(strings.TrimSpace(c.STT.Backend))
	if c.STT.Backend == "" {
		c.STT.Backend = defaultSTTBackend
	}
	c.STT.Language = strings.TrimSpace(c.STT.Language)
	if c.STT.Language == "" {
		c.STT.Language = defaultSTTLanguage
	}
	c.STT.OpenAIBaseURL = strings.TrimRight(strings.TrimSpace(c.STT.OpenAIBaseURL), "/")
	if c.STT.OpenAIBaseURL == "" {
		c.STT.OpenAIBaseURL = defaultOpenAIBaseURL
	}
	if c.STT.OpenAIAPIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.STT.OpenAIAPIKey = strings.TrimSpace(value)
		}
	}
	if c.STT.GoogleCredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.STT.GoogleCredentialsFile = strings.TrimSpace(value)
		}
	}
	if c.STT.GoogleCredentialsFile != "" {
		expanded, err := expandPath(c.STT.GoogleCredentialsFile)
		if err != nil {
			return fmt.Errorf("stt.google_credentials_file: %w", err)
		}
		c.STT.GoogleCredentialsFile = expanded
	}
	formats := make([]string, 0, len(c.STT.SupportedFormats))
	for _, format := range c.STT.SupportedFormats {
		if trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), "."); trimmed != "" {
			formats = append(formats, trimmed)
		}
	}
	c.STT.SupportedFormats = formats
	return nil
}

func (c *Config) normalizeLedger() {
	c.Ledger.RelayURL = strings.TrimRight(strings.TrimSpace(c.Ledger.RelayURL), "/")
	c.Ledger.AccountID = strings.TrimSpace(c.Ledger.AccountID)
	if c.Ledger.PrivateKey == "" {
		if value, ok := os.LookupEnv("CALLSCRIBE_LEDGER_KEY"); ok {
			c.Ledger.PrivateKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if c.Store.RedisURL == "" {
		if value, ok := os.LookupEnv("REDIS_URL"); ok {
			c.Store.RedisURL = strings.TrimSpace(value)
		}
	}
	if c.Store.RedisKeyPrefix == "" {
		c.Store.RedisKeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeArchive() error {
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	c.Archive.Prefix = strings.Trim(strings.TrimSpace(c.Archive.Prefix), "/")
	if c.Archive.CredentialsFile != "" {
		expanded, err := expandPath(c.Archive.CredentialsFile)
		if err != nil {
			return fmt.Errorf("archive.credentials_file: %w", err)
		}
		c.Archive.CredentialsFile = expanded
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
