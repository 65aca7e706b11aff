package queue_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/services"
)

type recordingProcessor struct {
	mu        sync.Mutex
	calls     []int64
	published []int64
	failures  map[int64]int
	always    map[int64]error
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{failures: map[int64]int{}, always: map[int64]error{}}
}

func (p *recordingProcessor) Process(_ context.Context, seg segment.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, seg.Sequence)
	if err, ok := p.always[seg.Sequence]; ok {
		return err
	}
	if p.failures[seg.Sequence] > 0 {
		p.failures[seg.Sequence]--
		return services.Wrap(services.ErrTransient, "stt", "transcribe", "rate limited", nil)
	}
	p.published = append(p.published, seg.Sequence)
	return nil
}

func (p *recordingProcessor) snapshot() (calls, published []int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int64(nil), p.calls...), append([]int64(nil), p.published...)
}

func (p *recordingProcessor) heal(seq int64) {
	p.mu.Lock()
	delete(p.always, seq)
	p.failures[seq] = 0
	p.mu.Unlock()
}

type sessionSet map[string]bool

func (s sessionSet) IsCapturing(id string) bool { return s[id] }

type memoryJournal struct {
	mu   sync.Mutex
	segs map[string]segment.Segment
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{segs: map[string]segment.Segment{}}
}

func journalKey(session string, seq int64) string { return fmt.Sprintf("%s/%08d", session, seq) }

func (j *memoryJournal) SaveSegment(_ context.Context, seg segment.Segment) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segs[journalKey(seg.SessionID, seg.Sequence)] = seg
	return nil
}

func (j *memoryJournal) RemoveSegment(_ context.Context, session string, seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.segs, journalKey(session, seq))
	return nil
}

func (j *memoryJournal) ClearSegments(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.segs = map[string]segment.Segment{}
	return nil
}

func (j *memoryJournal) LoadSegments(context.Context) ([]segment.Segment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	keys := make([]string, 0, len(j.segs))
	for k := range j.segs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]segment.Segment, 0, len(keys))
	for _, k := range keys {
		out = append(out, j.segs[k])
	}
	return out, nil
}

func (j *memoryJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.segs)
}

func newSegment(seq int64, size int) segment.Segment {
	return segment.Segment{
		SessionID:   "sess",
		Audio:       bytes.Repeat([]byte{0x1}, size),
		Format:      "webm",
		Sequence:    seq,
		StartTimeMs: (seq - 1) * 25000,
		EndTimeMs:   seq * 25000,
	}
}

func newTestQueue(t *testing.T, proc queue.Processor, opts ...func(*queue.Options)) *queue.Queue {
	t.Helper()
	o := queue.Options{
		MaxAttempts:      3,
		MinSegmentBytes:  1000,
		SupportedFormats: []string{"webm", "wav"},
		Processor:        proc,
		Sessions:         sessionSet{"sess": true},
	}
	for _, opt := range opts {
		opt(&o)
	}
	q := queue.New(o)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitIdle(t *testing.T, q *queue.Queue) {
	t.Helper()
	waitFor(t, "queue idle", func() bool {
		st := q.Status()
		return !st.Processing && (st.Pending == 0 || st.Paused)
	})
}

func mustEnqueue(t *testing.T, q *queue.Queue, seg segment.Segment) {
	t.Helper()
	if err := q.Enqueue(context.Background(), seg); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

func equalSeqs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFIFOOrder(t *testing.T) {
	proc := newRecordingProcessor()
	q := newTestQueue(t, proc)

	for seq := int64(1); seq <= 5; seq++ {
		mustEnqueue(t, q, newSegment(seq, 2000))
	}
	waitIdle(t, q)

	_, published := proc.snapshot()
	if !equalSeqs(published, []int64{1, 2, 3, 4, 5}) {
		t.Fatalf("expected FIFO publishes, got %v", published)
	}
	if st := q.Status(); st.Processed != 5 || st.Paused {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRetryBoundPausesWithSegmentAtHead(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = services.Wrap(services.ErrTransient, "stt", "transcribe", "unavailable", nil)

	var paused []segment.Segment
	var pauseMu sync.Mutex
	q := newTestQueue(t, proc, func(o *queue.Options) {
		o.OnPause = func(_ queue.Status, seg segment.Segment, _ error) {
			pauseMu.Lock()
			paused = append(paused, seg)
			pauseMu.Unlock()
		}
	})

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))
	waitFor(t, "pause", q.Paused)
	waitIdle(t, q)

	calls, published := proc.snapshot()
	if !equalSeqs(calls, []int64{1, 1, 1}) {
		t.Fatalf("expected exactly three attempts on segment 1, got %v", calls)
	}
	if len(published) != 0 {
		t.Fatalf("expected nothing published, got %v", published)
	}
	st := q.Status()
	if !st.Paused || st.HeadSequence != 1 || st.HeadAttempts != 3 || st.Pending != 2 {
		t.Fatalf("unexpected paused status %+v", st)
	}
	if st.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}

	pauseMu.Lock()
	defer pauseMu.Unlock()
	if len(paused) != 1 || paused[0].Sequence != 1 || paused[0].Attempts != 3 {
		t.Fatalf("expected one pause callback for segment 1, got %+v", paused)
	}
}

func TestNoOvertakingDuringRetry(t *testing.T) {
	proc := newRecordingProcessor()
	proc.failures[1] = 1
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))
	waitIdle(t, q)

	calls, published := proc.snapshot()
	if !equalSeqs(calls, []int64{1, 1, 2}) {
		t.Fatalf("expected segment 2 to wait for segment 1, got calls %v", calls)
	}
	if !equalSeqs(published, []int64{1, 2}) {
		t.Fatalf("unexpected publish order %v", published)
	}
	if st := q.Status(); st.Retries != 1 || st.Paused {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestUndersizedSegmentDroppedWithoutRetry(t *testing.T) {
	proc := newRecordingProcessor()
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 90))
	waitIdle(t, q)

	calls, _ := proc.snapshot()
	if len(calls) != 0 {
		t.Fatalf("expected processor not to be called, got %v", calls)
	}
	st := q.Status()
	if st.Dropped != 1 || st.Retries != 0 || st.Paused || st.HeadAttempts != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestUnsupportedFormatDropped(t *testing.T) {
	proc := newRecordingProcessor()
	q := newTestQueue(t, proc)

	seg := newSegment(1, 4000)
	seg.Format = "amr"
	mustEnqueue(t, q, seg)
	waitIdle(t, q)

	if st := q.Status(); st.Dropped != 1 {
		t.Fatalf("expected unsupported format to be dropped, got %+v", st)
	}
}

func TestPermanentProcessorErrorDropped(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = services.Wrap(services.ErrPermanent, "stt", "transcribe", "unsupported encoding", nil)
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 4000))
	mustEnqueue(t, q, newSegment(2, 4000))
	waitIdle(t, q)

	calls, published := proc.snapshot()
	if !equalSeqs(calls, []int64{1, 2}) || !equalSeqs(published, []int64{2}) {
		t.Fatalf("unexpected calls=%v published=%v", calls, published)
	}
	if st := q.Status(); st.Dropped != 1 || st.Retries != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestScenarioDropsUndersizedMiddleSegment(t *testing.T) {
	proc := newRecordingProcessor()
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 4000))
	mustEnqueue(t, q, newSegment(2, 90))
	mustEnqueue(t, q, newSegment(3, 5000))
	waitIdle(t, q)

	_, published := proc.snapshot()
	if !equalSeqs(published, []int64{1, 3}) {
		t.Fatalf("expected publishes [1 3], got %v", published)
	}
	if q.Paused() {
		t.Fatal("expected queue not to pause")
	}
}

func TestResetClearsPauseAndReturnsPending(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = errors.New("ledger unreachable")
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))
	waitFor(t, "pause", q.Paused)

	if err := q.EnqueueCapture(context.Background(), newSegment(3, 2000)); !errors.Is(err, queue.ErrQueuePaused) {
		t.Fatalf("expected ErrQueuePaused, got %v", err)
	}

	discarded := q.Reset(context.Background())
	if q.Paused() {
		t.Fatal("expected reset to clear pause")
	}
	if len(discarded) != 2 || discarded[0].Sequence != 1 || discarded[1].Sequence != 2 {
		t.Fatalf("unexpected discarded segments %+v", discarded)
	}
	if st := q.Status(); st.Pending != 0 {
		t.Fatalf("expected empty pending list, got %+v", st)
	}

	proc.heal(1)
	for _, seg := range discarded {
		seg.Attempts = 0
		mustEnqueue(t, q, seg)
	}
	waitIdle(t, q)

	_, published := proc.snapshot()
	if !equalSeqs(published, []int64{1, 2}) {
		t.Fatalf("expected both segments processed after reset, got %v", published)
	}
}

func TestResumeKeepsPendingSegments(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = errors.New("ledger unreachable")
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))
	waitFor(t, "pause", q.Paused)

	proc.heal(1)
	q.Resume(context.Background())
	waitIdle(t, q)

	_, published := proc.snapshot()
	if !equalSeqs(published, []int64{1, 2}) {
		t.Fatalf("expected both segments processed after resume, got %v", published)
	}
	if q.Paused() {
		t.Fatal("expected queue to stay unpaused")
	}
}

func TestPausedQueueAcceptsButHoldsSegments(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = errors.New("boom")
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	waitFor(t, "pause", q.Paused)

	mustEnqueue(t, q, newSegment(2, 2000))
	time.Sleep(20 * time.Millisecond)

	calls, _ := proc.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected no processing while paused, got calls %v", calls)
	}
	if st := q.Status(); st.Pending != 2 {
		t.Fatalf("expected both segments pending, got %+v", st)
	}
}

func TestInactiveSessionSegmentsDiscarded(t *testing.T) {
	proc := newRecordingProcessor()
	q := newTestQueue(t, proc, func(o *queue.Options) {
		o.Sessions = sessionSet{"sess": false}
	})

	mustEnqueue(t, q, newSegment(1, 4000))
	waitIdle(t, q)

	calls, _ := proc.snapshot()
	if len(calls) != 0 {
		t.Fatalf("expected discard without processing, got %v", calls)
	}
	if st := q.Status(); st.Discarded != 1 {
		t.Fatalf("expected discarded count 1, got %+v", st)
	}
}

func TestJournalTracksPendingAndRestoreKeepsAttempts(t *testing.T) {
	journal := newMemoryJournal()
	proc := newRecordingProcessor()
	proc.always[1] = errors.New("boom")
	q := newTestQueue(t, proc, func(o *queue.Options) { o.Journal = journal })

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))
	waitFor(t, "pause", q.Paused)
	waitIdle(t, q)
	q.Stop()

	if journal.len() != 2 {
		t.Fatalf("expected journal to hold both segments, got %d", journal.len())
	}

	restarted := queue.New(queue.Options{
		MaxAttempts:     3,
		MinSegmentBytes: 1000,
		Processor:       newRecordingProcessor(),
		Sessions:        sessionSet{"sess": true},
		Journal:         journal,
	})
	n, err := restarted.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored segments, got %d", n)
	}
	st := restarted.Status()
	if !st.Paused || st.HeadSequence != 1 || st.HeadAttempts != 3 {
		t.Fatalf("expected restored queue to come back paused at segment 1, got %+v", st)
	}
}

func TestJournalEmptiesAfterSuccess(t *testing.T) {
	journal := newMemoryJournal()
	q := newTestQueue(t, newRecordingProcessor(), func(o *queue.Options) { o.Journal = journal })

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 50))
	waitIdle(t, q)
	waitFor(t, "journal drain", func() bool { return journal.len() == 0 })
}

func TestDrainWaitsForSession(t *testing.T) {
	proc := newRecordingProcessor()
	proc.failures[1] = 1
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	mustEnqueue(t, q, newSegment(2, 2000))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	drained, err := q.Drain(ctx, "sess")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if !drained {
		t.Fatal("expected session to drain")
	}
	_, published := proc.snapshot()
	if !equalSeqs(published, []int64{1, 2}) {
		t.Fatalf("expected drain to wait for all publishes, got %v", published)
	}
}

func TestDrainReturnsWhenPaused(t *testing.T) {
	proc := newRecordingProcessor()
	proc.always[1] = errors.New("boom")
	q := newTestQueue(t, proc)

	mustEnqueue(t, q, newSegment(1, 2000))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	drained, err := q.Drain(ctx, "sess")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if drained {
		t.Fatal("expected drain to report an undrained paused queue")
	}
}
