package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callscribe/internal/ledger"
	"callscribe/internal/proxy"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/services"
	"callscribe/internal/session"
	"callscribe/internal/store"
	"callscribe/internal/testsupport"
)

type fakeLedger struct {
	mu       sync.Mutex
	created  []string
	messages []ledger.Message
	topics   []string
	next     int
}

func (f *fakeLedger) CreateTopic(_ context.Context, memo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.created = append(f.created, memo)
	return "0.0." + string(rune('0'+f.next)), nil
}

func (f *fakeLedger) SubmitMessage(_ context.Context, topicID, message string) (proxy.SubmitResult, error) {
	msg, err := ledger.Decode(message)
	if err != nil {
		return proxy.SubmitResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.topics = append(f.topics, topicID)
	return proxy.SubmitResult{TopicID: topicID, SequenceNumber: int64(len(f.messages))}, nil
}

func (f *fakeLedger) types() []ledger.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.MessageType, 0, len(f.messages))
	for _, m := range f.messages {
		out = append(out, m.Type)
	}
	return out
}

type fakeStream struct {
	mu      sync.Mutex
	tracks  int
	chunks  chan []byte
	stopped bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{tracks: 1, chunks: make(chan []byte, 16)}
}

func (f *fakeStream) AudioTracks() int      { return f.tracks }
func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }
func (f *fakeStream) Format() string        { return "webm" }
func (f *fakeStream) Pause() error          { return nil }
func (f *fakeStream) Resume() error         { return nil }
func (f *fakeStream) Release() error        { return nil }
func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.chunks)
	}
	return nil
}

type recordingProcessor struct {
	mu   sync.Mutex
	seen []segment.Segment
	fail error
}

func (p *recordingProcessor) Process(_ context.Context, seg segment.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.seen = append(p.seen, seg)
	return nil
}

func (p *recordingProcessor) sequences() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int64
	for _, s := range p.seen {
		out = append(out, s.Sequence)
	}
	return out
}

type harness struct {
	coord   *session.Coordinator
	ledger  *fakeLedger
	repo    *store.Store
	queue   *queue.Queue
	proc    *recordingProcessor
	streams chan *fakeStream
}

type harnessOption func(*session.Options, *queue.Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		ledger:  &fakeLedger{},
		repo:    testsupport.MustOpenStore(t, cfg),
		proc:    &recordingProcessor{},
		streams: make(chan *fakeStream, 4),
	}
	sopts := session.Options{
		Repository: h.repo,
		Ledger:     h.ledger,
		MemoPrefix: "callscribe",
		OpenStream: func(context.Context, session.MeetingInfo) (segment.Stream, error) {
			s := newFakeStream()
			h.streams <- s
			return s, nil
		},
		NewSegmenter: func() *segment.Segmenter {
			return segment.New(segment.Options{Interval: time.Hour, DrainTimeout: time.Second})
		},
		DrainTimeout: 2 * time.Second,
	}
	qopts := queue.Options{MaxAttempts: 3, Processor: h.proc}
	for _, opt := range opts {
		opt(&sopts, &qopts)
	}
	h.coord = session.New(sopts)
	qopts.Sessions = h.coord
	h.queue = queue.New(qopts)
	h.coord.AttachQueue(h.queue)

	ctx, cancel := context.WithCancel(context.Background())
	h.queue.Start(ctx)
	t.Cleanup(func() {
		_ = h.coord.Close(context.Background())
		cancel()
		h.queue.Stop()
	})
	return h
}

func (h *harness) detectAndStart(t *testing.T, meetingID string, opts session.StartOptions) session.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.coord.Detect(ctx, session.MeetingInfo{MeetingID: meetingID, Title: "Weekly sync", Platform: "meet"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	started, err := h.coord.StartRecording(ctx, s.ID, opts)
	if err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	return started
}

func TestDetectRequiresMeetingID(t *testing.T) {
	h := newHarness(t)
	if _, err := h.coord.Detect(context.Background(), session.MeetingInfo{MeetingID: " "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartRecordingCreatesTopicAndPublishesMeetingStart(t *testing.T) {
	h := newHarness(t)
	s := h.detectAndStart(t, "mtg-1", session.StartOptions{})

	if s.State != session.StateRecording || s.TopicID != "0.0.1" {
		t.Fatalf("unexpected session %+v", s)
	}
	if len(h.ledger.created) != 1 || h.ledger.created[0] != "callscribe: mtg-1 Weekly Sync (meet)" {
		t.Fatalf("unexpected topic memos %q", h.ledger.created)
	}
	if types := h.ledger.types(); len(types) != 1 || types[0] != ledger.TypeMeetingStart {
		t.Fatalf("expected meeting_start, got %v", types)
	}
	topicID, ok, err := h.repo.LookupTopic(context.Background(), "mtg-1")
	if err != nil || !ok || topicID != "0.0.1" {
		t.Fatalf("expected persisted mapping, got %q %v %v", topicID, ok, err)
	}
	rec, err := h.repo.GetSession(context.Background(), s.ID)
	if err != nil || rec.State != "recording" || rec.Title != "Weekly sync" {
		t.Fatalf("unexpected persisted session %+v %v", rec, err)
	}
	if active, ok := h.coord.Active(); !ok || active.ID != s.ID {
		t.Fatalf("expected %s active", s.ID)
	}
}

func TestTopicCreatedOncePerMeeting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})
	if _, err := h.coord.Stop(ctx, first.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	second := h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})
	if second.TopicID != first.TopicID {
		t.Fatalf("expected topic reuse, got %q then %q", first.TopicID, second.TopicID)
	}
	if len(h.ledger.created) != 1 {
		t.Fatalf("expected a single CREATE_TOPIC, got %d", len(h.ledger.created))
	}
}

func TestTopicReusedFromRepository(t *testing.T) {
	h := newHarness(t)
	if err := h.repo.SaveTopic(context.Background(), "mtg-9", "0.0.900"); err != nil {
		t.Fatalf("SaveTopic failed: %v", err)
	}
	s := h.detectAndStart(t, "mtg-9", session.StartOptions{External: true})
	if s.TopicID != "0.0.900" || len(h.ledger.created) != 0 {
		t.Fatalf("expected persisted topic reuse, got %q created=%d", s.TopicID, len(h.ledger.created))
	}
}

func TestSecondCaptureConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})

	other, err := h.coord.Detect(ctx, session.MeetingInfo{MeetingID: "mtg-2"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if _, err := h.coord.StartRecording(ctx, other.ID, session.StartOptions{External: true}); !errors.Is(err, session.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	got, err := h.coord.Get(ctx, other.ID)
	if err != nil || got.State != session.StateDetected {
		t.Fatalf("expected rejected session to stay detected, got %+v %v", got, err)
	}
}

func TestStateMachine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.coord.Detect(ctx, session.MeetingInfo{MeetingID: "mtg-1"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if _, err := h.coord.EnableTranscription(ctx, s.ID); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from detected, got %v", err)
	}
	if _, err := h.coord.StartRecording(ctx, s.ID, session.StartOptions{External: true}); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	got, err := h.coord.EnableTranscription(ctx, s.ID)
	if err != nil || got.State != session.StateTranscribing || !got.Transcribing() {
		t.Fatalf("expected transcribing, got %+v %v", got, err)
	}
	if _, err := h.coord.EnableTranscription(ctx, s.ID); err != nil {
		t.Fatalf("expected idempotent enable, got %v", err)
	}
	done, err := h.coord.Stop(ctx, s.ID)
	if err != nil || done.State != session.StateCompleted || done.EndedAt == nil {
		t.Fatalf("expected completed, got %+v %v", done, err)
	}
	if _, err := h.coord.Stop(ctx, s.ID); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after completion, got %v", err)
	}
	if _, err := h.coord.Fail(ctx, s.ID, errors.New("late")); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("expected terminal session to reject Fail, got %v", err)
	}
	if _, ok := h.coord.Active(); ok {
		t.Fatal("expected no active session after stop")
	}
	if _, err := h.coord.Get(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStopFlushesCaptureAndDrainsBeforeCompleting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.detectAndStart(t, "mtg-1", session.StartOptions{Transcribe: true})
	stream := <-h.streams

	stream.chunks <- []byte("final words")
	done, err := h.coord.Stop(ctx, s.ID)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if seqs := h.proc.sequences(); len(seqs) != 1 || seqs[0] != 1 {
		t.Fatalf("expected flushed segment processed while capturing, got %v", seqs)
	}
	if done.Segments != 1 || done.Capture != segment.StateStopped {
		t.Fatalf("unexpected final session %+v", done)
	}
	types := h.ledger.types()
	if len(types) != 2 || types[1] != ledger.TypeMeetingEnd {
		t.Fatalf("expected meeting_end last, got %v", types)
	}
	end := h.ledger.messages[1]
	if end.Summary == nil || end.Summary.SessionID != s.ID || end.Summary.Segments != 1 || end.Summary.EndedAt == nil {
		t.Fatalf("unexpected meeting_end summary %+v", end.Summary)
	}
}

func TestCaptureSegmentForExternalSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})

	first, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(2000), Format: "webm", EndTimeMs: 25000})
	if err != nil || first.Sequence != 1 || first.SessionID != s.ID {
		t.Fatalf("unexpected first capture %+v %v", first, err)
	}
	if _, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(2000), Sequence: 5}); err != nil {
		t.Fatalf("explicit sequence rejected: %v", err)
	}
	if _, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(2000), Sequence: 3}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected out-of-order rejection, got %v", err)
	}
	if _, err := h.coord.Stop(ctx, s.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if seqs := h.proc.sequences(); len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 5 {
		t.Fatalf("expected 1 and 5 processed, got %v", seqs)
	}
	if _, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(10)}); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestCaptureSegmentRejectedWhilePaused(t *testing.T) {
	h := newHarness(t, func(_ *session.Options, q *queue.Options) {
		q.MaxAttempts = 1
	})
	h.proc.fail = services.Wrap(services.ErrTransient, "test", "process", "stt down", nil)
	ctx := context.Background()
	h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})

	if _, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(10)}); err != nil {
		t.Fatalf("first capture failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.queue.Paused() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(10)}); !errors.Is(err, queue.ErrQueuePaused) {
		t.Fatalf("expected ErrQueuePaused, got %v", err)
	}
	if discarded := h.queue.Reset(ctx); len(discarded) != 1 {
		t.Fatalf("expected the failing segment discarded, got %d", len(discarded))
	}
	next, err := h.coord.CaptureSegment(ctx, session.CaptureRequest{Audio: testsupport.Audio(10)})
	if err != nil || next.Sequence != 2 {
		t.Fatalf("expected rejected capture not to consume a sequence, got %+v %v", next, err)
	}
}

func TestCaptureEndFailsSession(t *testing.T) {
	h := newHarness(t)
	s := h.detectAndStart(t, "mtg-1", session.StartOptions{})
	stream := <-h.streams
	_ = stream.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.coord.Get(context.Background(), s.ID)
		if err == nil && got.State == session.StateError {
			if got.Error != "capture ended unexpectedly" {
				t.Fatalf("unexpected error text %q", got.Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected session to fail after capture ended")
}

func TestStreamWithoutAudioLeavesSessionDetected(t *testing.T) {
	h := newHarness(t, func(o *session.Options, _ *queue.Options) {
		o.OpenStream = func(context.Context, session.MeetingInfo) (segment.Stream, error) {
			s := newFakeStream()
			s.tracks = 0
			return s, nil
		}
	})
	ctx := context.Background()
	s, _ := h.coord.Detect(ctx, session.MeetingInfo{MeetingID: "mtg-1"})
	if _, err := h.coord.StartRecording(ctx, s.ID, session.StartOptions{}); !errors.Is(err, segment.ErrNoStream) {
		t.Fatalf("expected ErrNoStream, got %v", err)
	}
	if _, ok := h.coord.Active(); ok {
		t.Fatal("expected reservation released")
	}
	if _, err := h.coord.StartRecording(ctx, s.ID, session.StartOptions{External: true}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestHeartbeatPublishesWhileCapturing(t *testing.T) {
	h := newHarness(t, func(o *session.Options, _ *queue.Options) {
		o.Heartbeat = 10 * time.Millisecond
	})
	s := h.detectAndStart(t, "mtg-1", session.StartOptions{External: true})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.ledger.mu.Lock()
		var beat *ledger.Message
		for i := range h.ledger.messages {
			if h.ledger.messages[i].Type == ledger.TypeHeartbeat {
				beat = &h.ledger.messages[i]
				break
			}
		}
		h.ledger.mu.Unlock()
		if beat != nil {
			if beat.Status == nil || beat.Status.SessionID != s.ID || beat.Status.State != "recording" {
				t.Fatalf("unexpected heartbeat %+v", beat.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a heartbeat message")
}

func TestRecoverFailsInterruptedSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()
	for id, state := range map[string]string{"a": "recording", "b": "transcribing", "c": "completed"} {
		if err := h.repo.SaveSession(ctx, store.Session{ID: id, MeetingID: id, State: state, StartedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}
	n, err := h.coord.Recover(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected two sessions recovered, got %d %v", n, err)
	}
	got, err := h.coord.Get(ctx, "a")
	if err != nil || got.State != session.StateError {
		t.Fatalf("expected error state, got %+v %v", got, err)
	}
}
