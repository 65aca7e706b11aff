package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callscribe/internal/logging"
	"callscribe/internal/notifications"
	"callscribe/internal/proxy"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/services"
	"callscribe/internal/store"
	"callscribe/internal/workflow"
)

// Ledger is the privileged surface the coordinator needs.
type Ledger interface {
	CreateTopic(ctx context.Context, memo string) (string, error)
	SubmitMessage(ctx context.Context, topicID, message string) (proxy.SubmitResult, error)
}

// SegmentQueue is the part of queue.Queue the coordinator drives.
type SegmentQueue interface {
	Enqueue(ctx context.Context, seg segment.Segment) error
	EnqueueCapture(ctx context.Context, seg segment.Segment) error
	Drain(ctx context.Context, sessionID string) (bool, error)
	Status() queue.Status
}

// StreamOpener opens the local capture for a meeting.
type StreamOpener func(ctx context.Context, meeting MeetingInfo) (segment.Stream, error)

// Options configures a Coordinator.
type Options struct {
	Repository   store.Repository
	Ledger       Ledger
	OpenStream   StreamOpener
	NewSegmenter func() *segment.Segmenter
	Notifier     notifications.Service
	MemoPrefix   string
	// Heartbeat is the heartbeat message period; zero disables heartbeats.
	Heartbeat    time.Duration
	DrainTimeout time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

// StartOptions tunes StartRecording.
type StartOptions struct {
	// External sessions have no local capture; audio arrives through
	// CaptureSegment.
	External bool
	// Transcribe moves the session straight to transcribing.
	Transcribe bool
}

type live struct {
	Session
	segmenter   *segment.Segmenter
	forwarded   chan struct{}
	stopBeat    context.CancelFunc
	stopping    bool
	lastCapture int64
}

// Coordinator owns the session lifecycle. Create it with New, attach the
// queue with AttachQueue, and Close it on shutdown.
type Coordinator struct {
	repo         store.Repository
	ledger       Ledger
	openStream   StreamOpener
	newSegmenter func() *segment.Segmenter
	notifier     notifications.Service
	memoPrefix   string
	heartbeat    time.Duration
	drainTimeout time.Duration
	clock        func() time.Time
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// topicMu serializes topic lookup and creation; topics caches resolved
	// mappings for the life of the process.
	topicMu sync.Mutex
	topics  map[string]string

	// captureMu spans sequence assignment and enqueue so external segments
	// reach the queue in sequence order.
	captureMu sync.Mutex

	mu       sync.Mutex
	queue    SegmentQueue
	sessions map[string]*live
	active   string
}

// New constructs a coordinator.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 2 * time.Minute
	}
	if opts.NewSegmenter == nil {
		opts.NewSegmenter = func() *segment.Segmenter { return segment.New(segment.Options{Logger: opts.Logger}) }
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		repo:         opts.Repository,
		ledger:       opts.Ledger,
		openStream:   opts.OpenStream,
		newSegmenter: opts.NewSegmenter,
		notifier:     opts.Notifier,
		memoPrefix:   opts.MemoPrefix,
		heartbeat:    opts.Heartbeat,
		drainTimeout: opts.DrainTimeout,
		clock:        opts.Clock,
		logger:       logging.NewComponentLogger(opts.Logger, "session"),
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*live),
		topics:       make(map[string]string),
	}
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, notifications.Event, notifications.Payload) error {
	return nil
}

// AttachQueue sets the queue segments are forwarded to. It must be called
// before the first StartRecording.
func (c *Coordinator) AttachQueue(q SegmentQueue) {
	c.mu.Lock()
	c.queue = q
	c.mu.Unlock()
}

// Recover marks sessions a previous process left capturing as failed.
func (c *Coordinator) Recover(ctx context.Context) (int64, error) {
	n, err := c.repo.FailActiveSessions(ctx, LiveStates(), "daemon restarted while capturing")
	if err != nil {
		return 0, fmt.Errorf("recover sessions: %w", err)
	}
	if n > 0 {
		logging.WarnWithContext(c.logger, "sessions interrupted by restart marked failed", "session_recovered",
			logging.Int64("count", n),
			logging.String(logging.FieldImpact, "audio captured after the last queued segment is lost"),
			logging.String(logging.FieldErrorHint, "start a new session to keep recording"),
		)
	}
	return n, nil
}

// Detect registers a meeting and returns its new session in detected.
func (c *Coordinator) Detect(ctx context.Context, meeting MeetingInfo) (Session, error) {
	meeting.MeetingID = strings.TrimSpace(meeting.MeetingID)
	if meeting.MeetingID == "" {
		return Session{}, services.Wrap(services.ErrValidation, "session", "detect", "meeting id is required", nil)
	}
	now := c.clock()
	s := &live{Session: Session{
		ID:         uuid.NewString(),
		Meeting:    meeting,
		State:      StateDetected,
		DetectedAt: now.UTC(),
	}}
	if err := c.repo.SaveSession(ctx, s.record(now)); err != nil {
		return Session{}, fmt.Errorf("detect meeting %s: %w", meeting.MeetingID, err)
	}
	c.mu.Lock()
	c.sessions[s.ID] = s
	snapshot := c.snapshotLocked(s)
	c.mu.Unlock()

	c.logger.Info("meeting detected",
		logging.String(logging.FieldSessionID, s.ID),
		logging.String(logging.FieldMeetingID, meeting.MeetingID),
		logging.String("platform", meeting.Platform),
	)
	return snapshot, nil
}

// Get returns a session, live or persisted.
func (c *Coordinator) Get(ctx context.Context, id string) (Session, error) {
	c.mu.Lock()
	if s, ok := c.sessions[id]; ok {
		snapshot := c.snapshotLocked(s)
		c.mu.Unlock()
		return snapshot, nil
	}
	c.mu.Unlock()
	rec, err := c.repo.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return Session{}, err
	}
	return FromRecord(rec), nil
}

// List returns live sessions followed by persisted history, newest first.
func (c *Coordinator) List(ctx context.Context, limit int) ([]Session, error) {
	records, err := c.repo.ListSessions(ctx, limit)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Session, 0, len(records))
	for _, rec := range records {
		if s, ok := c.sessions[rec.ID]; ok {
			out = append(out, c.snapshotLocked(s))
			continue
		}
		out = append(out, FromRecord(rec))
	}
	return out, nil
}

// Active returns the capturing session, if any.
func (c *Coordinator) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[c.active]
	if !ok || !s.State.Live() {
		return Session{}, false
	}
	return c.snapshotLocked(s), true
}

// IsCapturing implements queue.SessionChecker.
func (c *Coordinator) IsCapturing(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return ok && sessionID == c.active && s.State.Live()
}

// Target implements workflow.Sessions.
func (c *Coordinator) Target(sessionID string) (workflow.Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok || !s.State.Live() {
		return workflow.Target{}, false
	}
	return workflow.Target{
		SessionID:    s.ID,
		MeetingID:    s.Meeting.MeetingID,
		TopicID:      s.TopicID,
		Transcribing: s.Transcribing(),
	}, true
}

// SegmentPublished implements workflow.Sessions.
func (c *Coordinator) SegmentPublished(sessionID string, _ int64) {
	c.mu.Lock()
	if s, ok := c.sessions[sessionID]; ok {
		s.Published++
	}
	c.mu.Unlock()
}

// Close stops the active session, if any, and waits for background work.
func (c *Coordinator) Close(ctx context.Context) error {
	var err error
	if active, ok := c.Active(); ok {
		_, err = c.Stop(ctx, active.ID)
	}
	c.cancel()
	c.wg.Wait()
	return err
}

func (c *Coordinator) snapshotLocked(s *live) Session {
	out := s.Session
	if s.segmenter != nil {
		out.Capture = s.segmenter.State()
	}
	return out
}

// lookupLocked returns the live record for id.
func (c *Coordinator) lookupLocked(id string) (*live, error) {
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (c *Coordinator) persist(ctx context.Context, snapshot Session) {
	if err := c.repo.SaveSession(context.WithoutCancel(ctx), snapshot.record(c.clock())); err != nil {
		logging.WarnWithContext(c.logger, "session persist failed", "session_persist_failed",
			logging.String(logging.FieldSessionID, snapshot.ID),
			logging.String("state", string(snapshot.State)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "session history may show a stale state"),
			logging.String(logging.FieldErrorHint, "check the state database"),
		)
	}
}

func (c *Coordinator) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := c.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		c.logger.Debug("session notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
