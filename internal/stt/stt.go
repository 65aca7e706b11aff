package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"callscribe/internal/config"
	"callscribe/internal/services"
)

// Request is one segment to transcribe.
type Request struct {
	Audio    []byte
	Format   string
	Language string
	// Name is used for temporary files and multipart uploads.
	Name string
}

// Result is a transcription.
type Result struct {
	Text       string
	Confidence float64
	Language   string
	Duration   time.Duration
}

// Empty reports whether the transcription carries no words.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Transcriber converts audio to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}

// New builds the backend selected by cfg.STT.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Transcriber, error) {
	timeout := time.Duration(cfg.STT.TimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.STT.Backend)) {
	case "openai":
		return NewOpenAI(cfg.STT.OpenAIAPIKey,
			WithBaseURL(cfg.STT.OpenAIBaseURL),
			WithModel(cfg.STT.OpenAIModel),
			WithTimeout(timeout),
		), nil
	case "google":
		return NewGoogle(ctx, GoogleOptions{
			CredentialsFile: cfg.STT.GoogleCredentialsFile,
			SampleRate:      cfg.Capture.SampleRate,
			Channels:        cfg.Capture.Channels,
		})
	case "whisperx":
		return NewWhisperX(WhisperXConfig{
			Model:       cfg.STT.WhisperXModel,
			CUDAEnabled: cfg.STT.WhisperXCUDA,
			WorkDir:     cfg.Paths.SpoolDir,
			Logger:      logger,
		}), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "stt", "select backend",
			fmt.Sprintf("unsupported stt backend %q", cfg.STT.Backend), nil)
	}
}

// extension returns the file extension for a segment format.
func extension(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if format == "" {
		return "bin"
	}
	return format
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
