package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"callscribe/internal/queue"
	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// gatedProcessor blocks each segment until its gate is released.
type gatedProcessor struct {
	mu      sync.Mutex
	started map[int64]bool
	done    map[int64]bool
	gates   map[int64]chan struct{}
}

func newGatedProcessor(seqs ...int64) *gatedProcessor {
	p := &gatedProcessor{started: map[int64]bool{}, done: map[int64]bool{}, gates: map[int64]chan struct{}{}}
	for _, seq := range seqs {
		p.gates[seq] = make(chan struct{})
	}
	return p
}

func (p *gatedProcessor) Process(ctx context.Context, seg segment.Segment) error {
	p.mu.Lock()
	p.started[seg.Sequence] = true
	gate := p.gates[seg.Sequence]
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.done[seg.Sequence] = true
	p.mu.Unlock()
	return nil
}

func (p *gatedProcessor) hasStarted(seq int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started[seq]
}

func (p *gatedProcessor) hasFinished(seq int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[seq]
}

func (p *gatedProcessor) release(seq int64) { close(p.gates[seq]) }

func TestLoopOutlivingResetKeepsNewInFlight(t *testing.T) {
	proc := newGatedProcessor(1, 2)
	q := newTestQueue(t, proc, func(o *queue.Options) {
		o.Sessions = sessionSet{"a": true, "b": true}
	})

	first := newSegment(1, 2000)
	first.SessionID = "a"
	mustEnqueue(t, q, first)
	waitFor(t, "segment 1 in flight", func() bool { return proc.hasStarted(1) })

	q.Reset(context.Background())

	second := newSegment(2, 2000)
	second.SessionID = "b"
	mustEnqueue(t, q, second)
	waitFor(t, "segment 2 in flight", func() bool { return proc.hasStarted(2) })

	proc.release(1)
	waitFor(t, "segment 1 finished", func() bool { return proc.hasFinished(1) })
	time.Sleep(20 * time.Millisecond)

	st := q.Status()
	if st.HeadSession != "b" || st.HeadSequence != 2 || !st.Processing {
		t.Fatalf("expected segment 2 reported in flight, got %+v", st)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if drained, err := q.Drain(ctx, "b"); drained || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected drain to wait for segment 2, got drained=%v err=%v", drained, err)
	}

	proc.release(2)
	ctx, cancel = context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if drained, err := q.Drain(ctx, "b"); !drained || err != nil {
		t.Fatalf("expected drain after segment 2, got drained=%v err=%v", drained, err)
	}
	if st := q.Status(); st.Processed != 1 {
		t.Fatalf("expected only segment 2 counted, got %+v", st)
	}
}

// slowFreshJournal delays saves of segments with a fresh attempt budget.
type slowFreshJournal struct {
	*memoryJournal
	delay time.Duration
	slow  bool
	mu    sync.Mutex
}

func (j *slowFreshJournal) SaveSegment(ctx context.Context, seg segment.Segment) error {
	j.mu.Lock()
	slow := j.slow
	j.mu.Unlock()
	if slow && seg.Attempts == 0 {
		time.Sleep(j.delay)
	}
	return j.memoryJournal.SaveSegment(ctx, seg)
}

func (j *slowFreshJournal) slowDown() {
	j.mu.Lock()
	j.slow = true
	j.mu.Unlock()
}

func TestResumeJournalMatchesQueueAttempts(t *testing.T) {
	journal := &slowFreshJournal{memoryJournal: newMemoryJournal(), delay: 50 * time.Millisecond}
	proc := newRecordingProcessor()
	proc.always[1] = services.Wrap(services.ErrTransient, "stt", "transcribe", "unavailable", nil)
	q := newTestQueue(t, proc, func(o *queue.Options) { o.Journal = journal })

	mustEnqueue(t, q, newSegment(1, 2000))
	waitFor(t, "pause", q.Paused)
	waitIdle(t, q)

	journal.slowDown()
	q.Resume(context.Background())
	waitFor(t, "second pause", func() bool {
		calls, _ := proc.snapshot()
		return len(calls) == 6 && q.Paused()
	})
	waitIdle(t, q)

	st := q.Status()
	segs, err := journal.LoadSegments(context.Background())
	if err != nil {
		t.Fatalf("LoadSegments failed: %v", err)
	}
	if len(segs) != 1 || segs[0].Attempts != st.HeadAttempts || st.HeadAttempts != 3 {
		t.Fatalf("journal %+v disagrees with queue status %+v", segs, st)
	}
}
