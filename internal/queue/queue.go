package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"callscribe/internal/logging"
	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// Processor transcribes and publishes one segment. A nil error means the
// segment is resolved; errors are classified with services.Classify.
type Processor interface {
	Process(ctx context.Context, seg segment.Segment) error
}

// SessionChecker reports whether a session still accepts segments.
type SessionChecker interface {
	IsCapturing(sessionID string) bool
}

// Journal persists the pending list.
type Journal interface {
	SaveSegment(ctx context.Context, seg segment.Segment) error
	RemoveSegment(ctx context.Context, sessionID string, sequence int64) error
	ClearSegments(ctx context.Context) error
	LoadSegments(ctx context.Context) ([]segment.Segment, error)
}

// PauseHandler is called once each time the queue pauses.
type PauseHandler func(status Status, seg segment.Segment, err error)

// Options configures a Queue.
type Options struct {
	MaxAttempts      int
	MinSegmentBytes  int
	SupportedFormats []string
	Processor        Processor
	Sessions         SessionChecker
	Journal          Journal
	OnPause          PauseHandler
	Logger           *slog.Logger
}

// Status is a point-in-time view of the queue.
type Status struct {
	Pending      int    `json:"pending"`
	Paused       bool   `json:"paused"`
	Processing   bool   `json:"processing"`
	HeadSession  string `json:"head_session,omitempty"`
	HeadSequence int64  `json:"head_sequence,omitempty"`
	HeadAttempts int    `json:"head_attempts,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	Processed    int64  `json:"processed"`
	Dropped      int64  `json:"dropped"`
	Discarded    int64  `json:"discarded"`
	Retries      int64  `json:"retries"`
}

// Queue is the ordered, single-consumer segment queue.
type Queue struct {
	maxAttempts int
	minBytes    int
	formats     map[string]struct{}
	processor   Processor
	sessions    SessionChecker
	journal     Journal
	onPause     PauseHandler
	logger      *slog.Logger

	// journalMu orders journal writes with the state change they mirror.
	// It is always taken before mu.
	journalMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pending    []segment.Segment
	inFlight   *segment.Segment
	processing bool
	paused     bool
	generation uint64
	lastErr    string
	changed    chan struct{}

	processed int64
	dropped   int64
	discarded int64
	retries   int64
}

// New constructs a stopped queue.
func New(opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	var formats map[string]struct{}
	if len(opts.SupportedFormats) > 0 {
		formats = make(map[string]struct{}, len(opts.SupportedFormats))
		for _, f := range opts.SupportedFormats {
			formats[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
		}
	}
	return &Queue{
		maxAttempts: opts.MaxAttempts,
		minBytes:    opts.MinSegmentBytes,
		formats:     formats,
		processor:   opts.Processor,
		sessions:    opts.Sessions,
		journal:     opts.Journal,
		onPause:     opts.OnPause,
		logger:      logging.NewComponentLogger(opts.Logger, "queue"),
		changed:     make(chan struct{}),
	}
}

// Start enables consumption. Segments enqueued before Start are processed
// once it is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx != nil {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.kickLocked()
}

// Stop cancels the consumer and waits for it to exit. An in-flight segment
// is put back at the head without counting an attempt.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Restore loads journaled segments ahead of anything already pending. If the
// head segment already exhausted its attempts the queue comes back paused.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.journal == nil {
		return 0, nil
	}
	segs, err := q.journal.LoadSegments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}
	if len(segs) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	q.pending = append(segs, q.pending...)
	head := q.pending[0]
	if head.Attempts >= q.maxAttempts {
		q.paused = true
		q.lastErr = fmt.Sprintf("segment %d exhausted %d attempts before restart", head.Sequence, head.Attempts)
	}
	paused := q.paused
	q.notifyLocked()
	q.kickLocked()
	q.mu.Unlock()

	q.logger.Info("restored pending segments",
		logging.Int("count", len(segs)),
		logging.Bool("paused", paused),
	)
	return len(segs), nil
}

// Enqueue appends seg to the tail. While paused the segment is accepted and
// left pending.
func (q *Queue) Enqueue(ctx context.Context, seg segment.Segment) error {
	q.journalMu.Lock()
	if q.journal != nil {
		if err := q.journal.SaveSegment(ctx, seg); err != nil {
			q.journalMu.Unlock()
			return fmt.Errorf("journal segment %d: %w", seg.Sequence, err)
		}
	}
	q.mu.Lock()
	q.pending = append(q.pending, seg)
	q.notifyLocked()
	q.kickLocked()
	q.mu.Unlock()
	q.journalMu.Unlock()

	q.logger.Debug("segment enqueued",
		logging.String(logging.FieldSessionID, seg.SessionID),
		logging.Int64(logging.FieldSegmentSeq, seg.Sequence),
		logging.Int("bytes", seg.Size()),
	)
	return nil
}

// EnqueueCapture is the externally synchronized capture path. It refuses
// segments while the queue is paused.
func (q *Queue) EnqueueCapture(ctx context.Context, seg segment.Segment) error {
	if q.Paused() {
		return ErrQueuePaused
	}
	return q.Enqueue(ctx, seg)
}

// Reset clears the pause and empties the pending list. The discarded
// segments are returned so the caller can inspect or re-submit them.
func (q *Queue) Reset(ctx context.Context) []segment.Segment {
	q.journalMu.Lock()
	defer q.journalMu.Unlock()

	q.mu.Lock()
	discarded := q.pending
	q.pending = nil
	q.paused = false
	q.processing = false
	q.lastErr = ""
	q.generation++
	q.notifyLocked()
	q.mu.Unlock()

	if q.journal != nil {
		if err := q.journal.ClearSegments(ctx); err != nil {
			logging.WarnWithContext(q.logger, "journal clear failed", "journal_clear_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "discarded segments may be restored after restart"),
			)
		}
	}
	q.logger.Info("queue reset", logging.Int("discarded", len(discarded)))
	return discarded
}

// Resume clears the pause and keeps the pending list. The head segment gets a
// fresh attempt budget.
func (q *Queue) Resume(ctx context.Context) {
	q.journalMu.Lock()
	defer q.journalMu.Unlock()

	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.lastErr = ""
	var head *segment.Segment
	if len(q.pending) > 0 {
		q.pending[0].Attempts = 0
		h := q.pending[0]
		head = &h
	}
	q.notifyLocked()
	q.kickLocked()
	q.mu.Unlock()

	if head != nil && q.journal != nil {
		if err := q.journal.SaveSegment(ctx, *head); err != nil {
			q.logger.Warn("journal update failed", logging.Error(err))
		}
	}
	q.logger.Info("queue resumed")
}

// Paused reports whether consumption is halted.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Status returns a snapshot of the queue state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	st := Status{
		Pending:    len(q.pending),
		Paused:     q.paused,
		Processing: q.processing,
		LastError:  q.lastErr,
		Processed:  q.processed,
		Dropped:    q.dropped,
		Discarded:  q.discarded,
		Retries:    q.retries,
	}
	head := q.inFlight
	if head == nil && len(q.pending) > 0 {
		head = &q.pending[0]
	}
	if head != nil {
		st.HeadSession = head.SessionID
		st.HeadSequence = head.Sequence
		st.HeadAttempts = head.Attempts
	}
	return st
}

// Pending returns a copy of the pending list in processing order.
func (q *Queue) Pending() []segment.Segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.pending)
}

// Drain blocks until no pending or in-flight segment belongs to sessionID,
// the queue pauses, or ctx ends. It reports whether the session fully drained.
func (q *Queue) Drain(ctx context.Context, sessionID string) (bool, error) {
	for {
		q.mu.Lock()
		if q.ctx == nil {
			q.mu.Unlock()
			return false, ErrNotStarted
		}
		busy := q.inFlight != nil && q.inFlight.SessionID == sessionID
		if !busy {
			busy = slices.ContainsFunc(q.pending, func(s segment.Segment) bool { return s.SessionID == sessionID })
		}
		paused := q.paused
		wait := q.changed
		q.mu.Unlock()

		if !busy {
			return true, nil
		}
		if paused {
			return false, nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) kickLocked() {
	if q.ctx == nil || q.ctx.Err() != nil || q.processing || q.paused || len(q.pending) == 0 {
		return
	}
	q.processing = true
	q.wg.Add(1)
	go q.run(q.ctx, q.generation)
}

// validate rejects payloads no collaborator could ever accept.
func (q *Queue) validate(seg segment.Segment) error {
	if len(seg.Audio) == 0 {
		return services.Wrap(services.ErrPermanent, "queue", "validate", "empty payload", nil)
	}
	if seg.Size() < q.minBytes {
		return services.Wrap(services.ErrPermanent, "queue", "validate",
			fmt.Sprintf("payload of %d bytes is below the %d byte minimum", seg.Size(), q.minBytes), nil)
	}
	if q.formats != nil && seg.Format != "" {
		if _, ok := q.formats[strings.ToLower(seg.Format)]; !ok {
			return services.Wrap(services.ErrPermanent, "queue", "validate",
				fmt.Sprintf("unsupported format %q", seg.Format), nil)
		}
	}
	return nil
}
