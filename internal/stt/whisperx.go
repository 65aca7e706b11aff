package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"callscribe/internal/language"
	"callscribe/internal/logging"
	"callscribe/internal/services"
)

// WhisperX invocation constants.
const (
	WhisperXCommand      = "uvx"
	defaultWhisperXModel = "large-v3-turbo"
	whisperXCUDAIndex    = "https://download.pytorch.org/whl/cu128"
	whisperXPypiIndex    = "https://pypi.org/simple"
	whisperXBatchSize    = "4"
	whisperXChunkSize    = "15"
	whisperXVADMethod    = "silero"
)

// WhisperXConfig configures the local WhisperX backend.
type WhisperXConfig struct {
	Model       string
	CUDAEnabled bool
	// WorkDir holds the per-segment scratch directories.
	WorkDir string
	Logger  *slog.Logger
}

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// WhisperX runs whisperx through uvx against a temporary copy of the segment.
type WhisperX struct {
	cfg    WhisperXConfig
	runner CommandRunner
	logger *slog.Logger
}

// NewWhisperX constructs the backend.
func NewWhisperX(cfg WhisperXConfig) *WhisperX {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultWhisperXModel
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &WhisperX{cfg: cfg, logger: logging.NewComponentLogger(cfg.Logger, "whisperx")}
}

// WithCommandRunner replaces command execution; tests use it to fake uvx.
func (w *WhisperX) WithCommandRunner(runner CommandRunner) *WhisperX {
	w.runner = runner
	return w
}

// Name implements Transcriber.
func (w *WhisperX) Name() string { return "whisperx" }

// Close implements Transcriber.
func (w *WhisperX) Close() error { return nil }

// Transcribe writes the segment to a scratch directory, runs whisperx on it
// and joins the resulting segment texts.
func (w *WhisperX) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, services.Wrap(services.ErrPermanent, "stt", "transcribe", "empty audio", nil)
	}
	if err := os.MkdirAll(w.cfg.WorkDir, 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "stt", "transcribe", "ensure whisperx work dir", err)
	}
	scratch, err := os.MkdirTemp(w.cfg.WorkDir, "whisperx-")
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "stt", "transcribe", "create scratch dir", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			w.logger.Warn("whisperx scratch cleanup failed", logging.String("dir", scratch), logging.Error(err))
		}
	}()

	name := req.Name
	if name == "" {
		name = uuid.NewString()
	}
	source := filepath.Join(scratch, name+"."+extension(req.Format))
	if err := os.WriteFile(source, req.Audio, 0o600); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "stt", "transcribe", "write segment audio", err)
	}

	args := w.buildArgs(source, scratch, req.Language)
	if err := w.run(ctx, WhisperXCommand, args...); err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Wrap(services.ErrTimeout, "stt", "transcribe", "whisperx interrupted", err)
		}
		if hasPermanentSignature(strings.ToLower(err.Error())) {
			return Result{}, services.Wrap(services.ErrPermanent, "stt", "transcribe", "whisperx rejected audio", err)
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "stt", "transcribe", "whisperx failed", err)
	}

	jsonPath := filepath.Join(scratch, strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))+".json")
	output, err := loadWhisperXOutput(jsonPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "stt", "transcribe", "read whisperx output", err)
	}
	return output.result(), nil
}

func (w *WhisperX) run(ctx context.Context, name string, args ...string) error {
	if w.runner != nil {
		return w.runner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	// Torch 2.6 defaults torch.load to weights_only, which breaks pyannote checkpoints.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (w *WhisperX) buildArgs(source, outputDir, lang string) []string {
	args := make([]string, 0, 24)
	if w.cfg.CUDAEnabled {
		args = append(args, "--index-url", whisperXCUDAIndex, "--extra-index-url", whisperXPypiIndex)
	} else {
		args = append(args, "--index-url", whisperXPypiIndex)
	}
	args = append(args,
		"whisperx",
		source,
		"--model", w.cfg.Model,
		"--batch_size", whisperXBatchSize,
		"--chunk_size", whisperXChunkSize,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--vad_method", whisperXVADMethod,
	)
	if iso := language.ToISO2(lang); iso != "" {
		args = append(args, "--language", iso)
	}
	if w.cfg.CUDAEnabled {
		args = append(args, "--device", "cuda")
	} else {
		args = append(args, "--device", "cpu", "--compute_type", "float32")
	}
	return args
}

type whisperXWord struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

type whisperXSegment struct {
	Text  string         `json:"text"`
	Start float64        `json:"start"`
	End   float64        `json:"end"`
	Words []whisperXWord `json:"words"`
}

type whisperXOutput struct {
	Language string            `json:"language"`
	Segments []whisperXSegment `json:"segments"`
}

func loadWhisperXOutput(path string) (whisperXOutput, error) {
	var out whisperXOutput
	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("parse whisperx json: %w", err)
	}
	return out, nil
}

// result joins segment texts. Confidence is the mean aligned word score, or 1
// when whisperx produced no alignment.
func (o whisperXOutput) result() Result {
	var (
		parts  []string
		sum    float64
		scored int
		end    float64
	)
	for _, seg := range o.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
		for _, word := range seg.Words {
			if word.Score > 0 {
				sum += word.Score
				scored++
			}
		}
		end = max(end, seg.End)
	}
	res := Result{Text: strings.Join(parts, " "), Language: o.Language, Confidence: 1}
	if scored > 0 {
		res.Confidence = sum / float64(scored)
	}
	res.Duration = secondsToDuration(end)
	return res
}
