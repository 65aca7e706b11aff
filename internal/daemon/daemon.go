package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"callscribe/internal/config"
	"callscribe/internal/deps"
	"callscribe/internal/logging"
	"callscribe/internal/notifications"
	"callscribe/internal/preflight"
	"callscribe/internal/proxy"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/session"
	"callscribe/internal/store"
	"callscribe/internal/workflow"
)

// ErrAlreadyRunning is returned by Start when the lock is held.
var ErrAlreadyRunning = errors.New("another callscribe daemon instance is already running")

// shutdownTimeout bounds the final session flush on Stop.
const shutdownTimeout = 3 * time.Minute

// Options carries the collaborators the daemon drives. Store and Events are
// optional.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Sessions  *session.Coordinator
	Queue     *queue.Queue
	Processor *workflow.Processor
	Hub       *proxy.Hub
	Events    *logging.EventHub
	Notifier  notifications.Service
}

// Daemon owns the process lifecycle.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	sessions  *session.Coordinator
	queue     *queue.Queue
	processor *workflow.Processor
	hub       *proxy.Hub
	events    *logging.EventHub
	notifier  notifications.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	depsOnce sync.Once
	deps     []deps.Status

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// Status is a point-in-time view of the daemon.
type Status struct {
	Running      bool                `json:"running"`
	PID          int                 `json:"pid"`
	StartedAt    time.Time           `json:"started_at,omitzero"`
	LockPath     string              `json:"lock_path"`
	DatabasePath string              `json:"database_path"`
	APIBind      string              `json:"api_bind,omitempty"`
	Active       *session.Session    `json:"active,omitempty"`
	Queue        queue.Status        `json:"queue"`
	Processor    workflow.Stats      `json:"processor"`
	Contexts     []proxy.ContextInfo `json:"contexts"`
	Journal      int                 `json:"journal"`
	Backend      string              `json:"stt_backend"`
	Dependencies []deps.Status       `json:"dependencies"`
}

// New validates opts and constructs a stopped daemon.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Sessions == nil || opts.Queue == nil || opts.Hub == nil {
		return nil, errors.New("daemon requires config, sessions, queue, and hub")
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(opts.Config)
	}
	lockPath := opts.Config.LockPath()
	d := &Daemon{
		cfg:       opts.Config,
		logger:    logging.NewComponentLogger(opts.Logger, "daemon"),
		store:     opts.Store,
		sessions:  opts.Sessions,
		queue:     opts.Queue,
		processor: opts.Processor,
		hub:       opts.Hub,
		events:    opts.Events,
		notifier:  opts.Notifier,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(opts.Config, d, opts.Logger)
	return d, nil
}

// Start acquires the instance lock, recovers persisted state, starts the
// queue consumer and begins serving the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	release := func() {
		cancel()
		_ = d.lock.Unlock()
	}

	if failed, err := d.sessions.Recover(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "session recovery failed", "session_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "sessions live before the restart may still be listed as recording"),
		)
	} else if failed > 0 {
		d.logger.Info("marked interrupted sessions as failed", logging.Int64("sessions", failed))
	}

	if _, err := d.queue.Restore(runCtx); err != nil {
		release()
		return fmt.Errorf("restore queue: %w", err)
	}
	d.queue.Start(runCtx)

	if err := d.api.start(runCtx); err != nil {
		d.queue.Stop()
		release()
		return err
	}

	d.ctx, d.cancel = runCtx, cancel
	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("callscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_start"),
	)
	return nil
}

// Stop ends the active session, stops the queue consumer and the API, and
// releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.sessions.Close(flushCtx); err != nil {
		logging.WarnWithContext(d.logger, "session shutdown incomplete", "session_shutdown_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the active session may not have flushed its last segment"),
		)
	}
	d.queue.Stop()
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("callscribe daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockPath:     d.lockPath,
		DatabasePath: d.cfg.DatabasePath(),
		APIBind:      d.api.address(),
		Queue:        d.queue.Status(),
		Contexts:     d.hub.Contexts(),
		Backend:      d.cfg.STT.Backend,
		Dependencies: d.dependencies(),
	}
	d.mu.Lock()
	st.StartedAt = d.startedAt
	d.mu.Unlock()
	if active, ok := d.sessions.Active(); ok {
		st.Active = &active
	}
	if d.processor != nil {
		st.Processor = d.processor.Stats()
	}
	if d.store != nil {
		if n, err := d.store.JournalSize(ctx); err == nil {
			st.Journal = n
		}
	}
	return st
}

// dependencies probes external binaries once per daemon lifetime.
func (d *Daemon) dependencies() []deps.Status {
	d.depsOnce.Do(func() {
		d.deps = preflight.CheckSystemDeps(d.cfg)
	})
	return d.deps
}

// StartSession registers a detected meeting and starts recording it.
func (d *Daemon) StartSession(ctx context.Context, meeting session.MeetingInfo, opts session.StartOptions) (session.Session, error) {
	detected, err := d.sessions.Detect(ctx, meeting)
	if err != nil {
		return session.Session{}, err
	}
	started, err := d.sessions.StartRecording(ctx, detected.ID, opts)
	if err != nil {
		if _, rejErr := d.sessions.Reject(ctx, detected.ID, err); rejErr != nil {
			d.logger.Warn("rejected session not closed",
				logging.String(logging.FieldSessionID, detected.ID),
				logging.Error(rejErr),
			)
		}
		return session.Session{}, err
	}
	return started, nil
}

// StopSession stops id, or the active session when id is empty.
func (d *Daemon) StopSession(ctx context.Context, id string) (session.Session, error) {
	id, err := d.resolve(id)
	if err != nil {
		return session.Session{}, err
	}
	return d.sessions.Stop(ctx, id)
}

// EnableTranscription switches id, or the active session, to transcribing.
func (d *Daemon) EnableTranscription(ctx context.Context, id string) (session.Session, error) {
	id, err := d.resolve(id)
	if err != nil {
		return session.Session{}, err
	}
	return d.sessions.EnableTranscription(ctx, id)
}

// PauseCapture suspends the active segmenter.
func (d *Daemon) PauseCapture(ctx context.Context) (session.Session, error) {
	return d.sessions.Pause(ctx)
}

// ResumeCapture resumes the active segmenter.
func (d *Daemon) ResumeCapture(ctx context.Context) (session.Session, error) {
	return d.sessions.Resume(ctx)
}

// CaptureSegment accepts one externally captured segment.
func (d *Daemon) CaptureSegment(ctx context.Context, req session.CaptureRequest) (segment.Segment, error) {
	return d.sessions.CaptureSegment(ctx, req)
}

// QueueReset empties the queue and clears a pause. It returns the number of
// discarded segments.
func (d *Daemon) QueueReset(ctx context.Context) int {
	discarded := d.queue.Reset(ctx)
	d.logger.Info("queue reset requested",
		logging.Int("discarded", len(discarded)),
		logging.String(logging.FieldEventType, "queue_reset"),
	)
	return len(discarded)
}

// QueueResume clears a pause and keeps pending segments.
func (d *Daemon) QueueResume(ctx context.Context) queue.Status {
	d.queue.Resume(ctx)
	return d.queue.Status()
}

// Sessions lists recent sessions, newest first.
func (d *Daemon) Sessions(ctx context.Context, limit int) ([]session.Session, error) {
	return d.sessions.List(ctx, limit)
}

// Session returns one session.
func (d *Daemon) Session(ctx context.Context, id string) (session.Session, error) {
	return d.sessions.Get(ctx, id)
}

// Logs returns recent log events after since.
func (d *Daemon) Logs(since uint64, limit int) ([]logging.Event, uint64) {
	if d.events == nil {
		return nil, since
	}
	events, latest := d.events.Since(since, limit)
	next := latest
	if len(events) > 0 && len(events) == limit {
		next = events[len(events)-1].Sequence
	}
	return events, next
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg.Notifications.NtfyTopic == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func (d *Daemon) resolve(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	active, ok := d.sessions.Active()
	if !ok {
		return "", session.ErrNoActiveSession
	}
	return active.ID, nil
}
