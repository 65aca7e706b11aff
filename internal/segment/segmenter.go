package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callscribe/internal/logging"
)

// State is the segmenter lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// ErrNotRunning is returned for control calls after the segmenter stopped or
// before it started.
var ErrNotRunning = errors.New("segmenter not running")

// Framer is implemented by streams whose chunks must be wrapped in a
// container before a merged segment is a playable file.
type Framer interface {
	Frame(payload []byte) []byte
}

// Ticker abstracts time.Ticker so tests can drive cuts by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Options configures a Segmenter.
type Options struct {
	Interval     time.Duration
	Buffer       int
	DrainTimeout time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
	NewTicker    func(time.Duration) Ticker
}

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan error
}

// Segmenter cuts one session's capture stream into segments. A Segmenter is
// single use: Start it once, Stop it once.
type Segmenter struct {
	interval     time.Duration
	drainTimeout time.Duration
	clock        func() time.Time
	newTicker    func(time.Duration) Ticker
	logger       *slog.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	startedAt time.Time

	cmds chan command
	out  chan Segment
	done chan struct{}

	// owned by the run goroutine
	chunks   [][]byte
	buffered int
	lastCut  time.Time
	sequence int64
}

// New constructs an idle Segmenter.
func New(opts Options) *Segmenter {
	if opts.Interval <= 0 {
		opts.Interval = 25 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = func(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
	}
	return &Segmenter{
		interval:     opts.Interval,
		drainTimeout: opts.DrainTimeout,
		clock:        opts.Clock,
		newTicker:    opts.NewTicker,
		logger:       logging.NewComponentLogger(opts.Logger, "segmenter"),
		state:        StateIdle,
		cmds:         make(chan command),
		out:          make(chan Segment, opts.Buffer),
		done:         make(chan struct{}),
	}
}

// Segments delivers cut segments in sequence order. The channel is closed
// once the segmenter has stopped and flushed.
func (s *Segmenter) Segments() <-chan Segment {
	return s.out
}

// Done is closed when the segmenter has fully stopped.
func (s *Segmenter) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Emitted returns how many segments have been cut so far.
func (s *Segmenter) Emitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Start begins buffering stream for sessionID and arms the cut timer.
// Cancelling ctx behaves like Stop.
func (s *Segmenter) Start(ctx context.Context, sessionID string, stream Stream) error {
	if stream == nil || stream.AudioTracks() == 0 {
		return ErrNoStream
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("start segmenter: already %s", s.state)
	}
	now := s.clock()
	s.state = StateRunning
	s.sessionID = sessionID
	s.startedAt = now
	s.lastCut = now
	s.mu.Unlock()

	ticker := s.newTicker(s.interval)
	go s.run(ctx, stream, ticker)

	s.logger.Info("segmenter started",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Duration("interval", s.interval),
		logging.String("format", stream.Format()),
	)
	return nil
}

// Pause suspends capture and cuts. Buffered audio is kept.
func (s *Segmenter) Pause() error {
	return s.send(cmdPause)
}

// Resume restarts capture and cuts after Pause.
func (s *Segmenter) Resume() error {
	return s.send(cmdResume)
}

// Stop flushes remaining audio as a final segment and releases the stream.
func (s *Segmenter) Stop() error {
	if s.State() == StateIdle {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		close(s.out)
		close(s.done)
		return nil
	}
	return s.send(cmdStop)
}

func (s *Segmenter) send(kind commandKind) error {
	cmd := command{kind: kind, reply: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrNotRunning
	}
}

func (s *Segmenter) run(ctx context.Context, stream Stream, ticker Ticker) {
	defer close(s.done)
	defer close(s.out)
	defer ticker.Stop()

	chunks := stream.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				logging.WarnWithContext(s.logger, "capture ended unexpectedly", "capture_ended",
					logging.String(logging.FieldSessionID, s.sessionID),
					logging.String(logging.FieldErrorHint, "check the capture device; the session keeps running without audio"),
					logging.String(logging.FieldImpact, "no further segments for this session"),
				)
				if err := s.finish(stream, chunks, false); err != nil {
					s.logger.Warn("segmenter finish failed", logging.Error(err))
				}
				return
			}
			s.buffer(chunk)
		case <-ticker.C():
			if s.State() == StateRunning {
				s.cut(stream)
			}
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdPause:
				cmd.reply <- s.transition(StateRunning, StatePaused, stream.Pause)
			case cmdResume:
				cmd.reply <- s.transition(StatePaused, StateRunning, stream.Resume)
			case cmdStop:
				cmd.reply <- s.finish(stream, chunks, true)
				return
			}
		case <-ctx.Done():
			if err := s.finish(stream, chunks, true); err != nil {
				s.logger.Warn("segmenter finish failed", logging.Error(err))
			}
			return
		}
	}
}

func (s *Segmenter) transition(from, to State, action func() error) error {
	current := s.State()
	if current == to {
		return nil
	}
	if current != from {
		return fmt.Errorf("segmenter is %s", current)
	}
	if err := action(); err != nil {
		return fmt.Errorf("%s capture: %w", to, err)
	}
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.logger.Info("segmenter "+string(to), logging.String(logging.FieldSessionID, s.sessionID))
	return nil
}

func (s *Segmenter) buffer(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.chunks = append(s.chunks, chunk)
	s.buffered += len(chunk)
}

// finish performs the final flush. When stopCapture is set the stream is told
// to stop first and its remaining chunks are drained.
func (s *Segmenter) finish(stream Stream, chunks <-chan []byte, stopCapture bool) error {
	var errs []error
	if stopCapture {
		if err := stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
		s.drain(chunks)
	}
	s.cut(stream)
	if err := stream.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release capture: %w", err))
	}
	s.mu.Lock()
	s.state = StateStopped
	emitted := s.sequence
	s.mu.Unlock()
	s.logger.Info("segmenter stopped",
		logging.String(logging.FieldSessionID, s.sessionID),
		logging.Int64("segments", emitted),
	)
	return errors.Join(errs...)
}

func (s *Segmenter) drain(chunks <-chan []byte) {
	if chunks == nil {
		return
	}
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			s.buffer(chunk)
		case <-timer.C:
			logging.WarnWithContext(s.logger, "capture did not close in time", "capture_drain_timeout",
				logging.Duration("timeout", s.drainTimeout),
				logging.String(logging.FieldImpact, "audio produced after the timeout is lost"),
			)
			return
		}
	}
}

// cut merges buffered chunks into one segment. Nothing is emitted for an
// empty buffer.
func (s *Segmenter) cut(stream Stream) {
	now := s.clock()
	if s.buffered == 0 {
		s.lastCut = now
		return
	}

	payload := make([]byte, 0, s.buffered)
	for _, chunk := range s.chunks {
		payload = append(payload, chunk...)
	}
	if framer, ok := stream.(Framer); ok {
		payload = framer.Frame(payload)
	}

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	started := s.startedAt
	s.mu.Unlock()

	seg := Segment{
		SessionID:   s.sessionID,
		Audio:       payload,
		Format:      stream.Format(),
		StartTimeMs: s.lastCut.Sub(started).Milliseconds(),
		EndTimeMs:   now.Sub(started).Milliseconds(),
		Sequence:    seq,
		CreatedAt:   now.UTC(),
	}
	s.chunks = nil
	s.buffered = 0
	s.lastCut = now

	s.logger.Debug("segment cut",
		logging.String(logging.FieldSessionID, seg.SessionID),
		logging.Int64(logging.FieldSegmentSeq, seg.Sequence),
		logging.Int("bytes", seg.Size()),
	)
	s.out <- seg
}
