package config

const (
	defaultStateDir              = "~/.local/share/callscribe"
	defaultLogDir                = "~/.local/share/callscribe/logs"
	defaultSpoolDir              = "~/.local/share/callscribe/spool"
	defaultAPIBind               = "127.0.0.1:7611"
	defaultFFmpegBinary          = "ffmpeg"
	defaultCaptureFormat         = "pulse"
	defaultCaptureDevice         = "default"
	defaultCaptureSampleRate     = 16000
	defaultCaptureChannels       = 1
	defaultSegmentSeconds        = 25
	defaultChunkMillis           = 1000
	defaultMaxAttempts           = 3
	defaultMinSegmentBytes       = 1000
	defaultSTTBackend            = "openai"
	defaultSTTLanguage           = "en-US"
	defaultSTTTimeoutSeconds     = 120
	defaultOpenAIBaseURL         = "https://api.openai.com/v1"
	defaultOpenAIModel           = "whisper-1"
	defaultWhisperXModel         = "large-v3-turbo"
	defaultProxyTimeoutSeconds   = 30
	defaultLedgerTimeoutSeconds  = 20
	defaultHeartbeatSeconds      = 60
	defaultTopicMemoPrefix       = "callscribe"
	defaultStoreBackend          = "sqlite"
	defaultRedisKeyPrefix        = "callscribe:"
	defaultArchivePrefix         = "segments"
	defaultSpoolRetentionDays    = 14
	defaultNotifyTimeoutSeconds  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	minSegmentSeconds            = 5
	maxSegmentSeconds            = 120
	defaultSTTSupportedFormatsCS = "webm,ogg,wav,mp3,m4a,flac"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			SpoolDir: defaultSpoolDir,
		},
		Daemon: Daemon{
			APIBind:     defaultAPIBind,
			CORSOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Capture: Capture{
			FFmpegBinary:   defaultFFmpegBinary,
			Format:         defaultCaptureFormat,
			Device:         defaultCaptureDevice,
			SampleRate:     defaultCaptureSampleRate,
			Channels:       defaultCaptureChannels,
			SegmentSeconds: defaultSegmentSeconds,
			ChunkMillis:    defaultChunkMillis,
		},
		Queue: Queue{
			MaxAttempts:     defaultMaxAttempts,
			MinSegmentBytes: defaultMinSegmentBytes,
			Journal:         true,
		},
		STT: STT{
			Backend:          defaultSTTBackend,
			Language:         defaultSTTLanguage,
			TimeoutSeconds:   defaultSTTTimeoutSeconds,
			OpenAIBaseURL:    defaultOpenAIBaseURL,
			OpenAIModel:      defaultOpenAIModel,
			WhisperXModel:    defaultWhisperXModel,
			SupportedFormats: splitList(defaultSTTSupportedFormatsCS),
		},
		Proxy: Proxy{
			RequestTimeoutSeconds: defaultProxyTimeoutSeconds,
		},
		Ledger: Ledger{
			TimeoutSeconds: defaultLedgerTimeoutSeconds,
		},
		Session: Session{
			HeartbeatSeconds: defaultHeartbeatSeconds,
			TopicMemoPrefix:  defaultTopicMemoPrefix,
		},
		Store: Store{
			Backend:        defaultStoreBackend,
			RedisKeyPrefix: defaultRedisKeyPrefix,
		},
		Archive: Archive{
			Prefix:             defaultArchivePrefix,
			SpoolRetentionDays: defaultSpoolRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeoutSeconds,
			QueuePaused:    true,
			Sessions:       true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
