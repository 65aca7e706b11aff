package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"callscribe/internal/config"
	"callscribe/internal/logging"
)

// Options configures an ffmpeg capture.
type Options struct {
	Binary      string
	InputFormat string
	Device      string
	SampleRate  int
	Channels    int
	ChunkMillis int
	// StopTimeout bounds how long Stop waits for ffmpeg to exit after SIGINT.
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// OptionsFromConfig maps [capture] settings.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Binary:      cfg.FFmpegBinary(),
		InputFormat: cfg.Capture.Format,
		Device:      cfg.Capture.Device,
		SampleRate:  cfg.Capture.SampleRate,
		Channels:    cfg.Capture.Channels,
		ChunkMillis: cfg.Capture.ChunkMillis,
		Logger:      logger,
	}
}

// FFmpeg is a running ffmpeg capture. It implements segment.Stream and
// segment.Framer.
type FFmpeg struct {
	opts   Options
	cmd    *exec.Cmd
	chunks chan []byte
	exited chan struct{}
	stderr *tailBuffer
	logger *slog.Logger

	mu       sync.Mutex
	paused   bool
	stopped  bool
	released bool
	waitErr  error
}

// Open starts ffmpeg. The capture runs until Stop, Release or ctx ends.
func Open(ctx context.Context, opts Options) (*FFmpeg, error) {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.ChunkMillis <= 0 {
		opts.ChunkMillis = 1000
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	cmd := exec.CommandContext(ctx, opts.Binary, Args(opts)...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Binary, err)
	}

	f := &FFmpeg{
		opts:   opts,
		cmd:    cmd,
		chunks: make(chan []byte, 8),
		exited: make(chan struct{}),
		stderr: stderr,
		logger: logging.NewComponentLogger(opts.Logger, "capture"),
	}
	go f.read(stdout)
	f.logger.Info("capture started",
		logging.String("input_format", opts.InputFormat),
		logging.String("device", opts.Device),
		logging.Int("sample_rate", opts.SampleRate),
		logging.Int("pid", cmd.Process.Pid),
	)
	return f, nil
}

// Args builds the ffmpeg command line.
func Args(opts Options) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if opts.InputFormat != "" {
		args = append(args, "-f", opts.InputFormat)
	}
	device := opts.Device
	if device == "" {
		device = "default"
	}
	return append(args,
		"-i", device,
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
}

// ChunkBytes is the size of one delivered chunk.
func (f *FFmpeg) ChunkBytes() int {
	n := f.opts.SampleRate * f.opts.Channels * 2 * f.opts.ChunkMillis / 1000
	return max(n-n%(2*f.opts.Channels), 2*f.opts.Channels)
}

func (f *FFmpeg) read(stdout io.Reader) {
	defer close(f.exited)
	defer close(f.chunks)
	size := f.ChunkBytes()
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			f.chunks <- buf[:n]
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				f.logger.Warn("capture read failed", logging.Error(err))
			}
			break
		}
	}
	waitErr := f.cmd.Wait()
	f.mu.Lock()
	f.waitErr = waitErr
	stopped := f.stopped
	f.mu.Unlock()
	if waitErr != nil && !stopped {
		logging.WarnWithContext(f.logger, "ffmpeg exited", "capture_exited",
			logging.Error(waitErr),
			logging.String("stderr", f.stderr.String()),
			logging.String(logging.FieldErrorHint, "check capture.format and capture.device"),
		)
	}
}

// AudioTracks implements segment.Stream.
func (f *FFmpeg) AudioTracks() int { return f.opts.Channels }

// Chunks implements segment.Stream.
func (f *FFmpeg) Chunks() <-chan []byte { return f.chunks }

// Format implements segment.Stream.
func (f *FFmpeg) Format() string { return "wav" }

// Frame implements segment.Framer.
func (f *FFmpeg) Frame(pcm []byte) []byte {
	return append(WAVHeader(f.opts.SampleRate, f.opts.Channels, len(pcm)), pcm...)
}

// Pause suspends ffmpeg with SIGSTOP.
func (f *FFmpeg) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.paused {
		return nil
	}
	if err := unix.Kill(f.cmd.Process.Pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("pause capture: %w", err)
	}
	f.paused = true
	return nil
}

// Resume continues ffmpeg with SIGCONT.
func (f *FFmpeg) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || !f.paused {
		return nil
	}
	if err := unix.Kill(f.cmd.Process.Pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("resume capture: %w", err)
	}
	f.paused = false
	return nil
}

// Stop asks ffmpeg to finish. Audio it flushes is still delivered on Chunks.
func (f *FFmpeg) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	if f.paused {
		_ = unix.Kill(f.cmd.Process.Pid, unix.SIGCONT)
		f.paused = false
	}
	f.mu.Unlock()

	if err := f.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Release kills ffmpeg if it is still running and waits for it to exit.
func (f *FFmpeg) Release() error {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return nil
	}
	f.released = true
	f.stopped = true
	f.mu.Unlock()

	select {
	case <-f.exited:
	case <-time.After(f.opts.StopTimeout):
		if err := f.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill capture: %w", err)
		}
		for range f.chunks {
		}
		<-f.exited
	}
	f.logger.Info("capture released")
	return nil
}

// Err returns ffmpeg's exit error once the process has exited.
func (f *FFmpeg) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if extra := t.buf.Len() - t.limit; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
