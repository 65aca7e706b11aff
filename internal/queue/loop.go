package queue

import (
	"context"

	"callscribe/internal/logging"
	"callscribe/internal/segment"
	"callscribe/internal/services"
)

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeDiscarded
	outcomeDropped
	outcomeRetry
	outcomeInterrupted
)

// run is the consumer loop. Queue state is only touched under mu and never
// across a processor call; generation guards against a loop that outlived a
// Reset.
func (q *Queue) run(ctx context.Context, generation uint64) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.generation != generation {
			q.mu.Unlock()
			return
		}
		if q.paused || len(q.pending) == 0 || ctx.Err() != nil {
			q.processing = false
			q.notifyLocked()
			q.mu.Unlock()
			return
		}
		seg := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight = &seg
		q.mu.Unlock()

		result, err := q.step(ctx, seg)
		if !q.settle(ctx, generation, &seg, result, err) {
			return
		}
	}
}

// settle records the step result. The journal write happens before the new
// state is visible, so a Reset or Resume cannot interleave with it. It
// reports whether the loop should continue.
func (q *Queue) settle(ctx context.Context, generation uint64, seg *segment.Segment, result outcome, err error) bool {
	q.journalMu.Lock()
	q.mu.Lock()
	if q.generation != generation {
		// A Reset discarded this segment and a newer loop may own inFlight.
		if q.inFlight == seg {
			q.inFlight = nil
		}
		q.mu.Unlock()
		q.journalMu.Unlock()
		return false
	}
	if result == outcomeInterrupted {
		q.inFlight = nil
		q.pending = append([]segment.Segment{*seg}, q.pending...)
		q.processing = false
		q.notifyLocked()
		q.mu.Unlock()
		q.journalMu.Unlock()
		return false
	}
	q.mu.Unlock()

	retried := *seg
	if result == outcomeRetry {
		retried.Attempts++
	}
	q.afterStep(ctx, retried, result)

	q.mu.Lock()
	if q.inFlight == seg {
		q.inFlight = nil
	}
	paused := false
	switch result {
	case outcomeProcessed:
		q.processed++
	case outcomeDiscarded:
		q.discarded++
	case outcomeDropped:
		q.dropped++
	case outcomeRetry:
		q.retries++
		q.lastErr = err.Error()
		q.pending = append([]segment.Segment{retried}, q.pending...)
		if retried.Attempts >= q.maxAttempts {
			q.paused = true
			q.processing = false
			paused = true
		}
	}
	q.notifyLocked()
	status := q.statusLocked()
	q.mu.Unlock()
	q.journalMu.Unlock()

	if paused {
		q.handlePause(status, retried, err)
		return false
	}
	return true
}

// step resolves one segment without holding the lock.
func (q *Queue) step(ctx context.Context, seg segment.Segment) (outcome, error) {
	stepCtx := services.WithSessionID(ctx, seg.SessionID)
	stepCtx = services.WithSegmentSequence(stepCtx, seg.Sequence)
	logger := logging.WithContext(stepCtx, q.logger)

	if q.sessions != nil && !q.sessions.IsCapturing(seg.SessionID) {
		logger.Debug("session no longer capturing; segment discarded")
		return outcomeDiscarded, nil
	}

	if err := q.validate(seg); err != nil {
		logger.Info("segment dropped",
			logging.String("reason", err.Error()),
			logging.Int("bytes", seg.Size()),
		)
		return outcomeDropped, err
	}

	err := q.processor.Process(stepCtx, seg)
	if err == nil {
		return outcomeProcessed, nil
	}
	if ctx.Err() != nil {
		return outcomeInterrupted, err
	}
	if services.Classify(err) == services.DispositionDrop {
		logger.Info("segment dropped",
			logging.String("reason", err.Error()),
			logging.Int("bytes", seg.Size()),
		)
		return outcomeDropped, err
	}
	logging.WarnWithContext(logger, "segment attempt failed", "segment_retry",
		logging.Error(err),
		logging.Int("attempt", seg.Attempts+1),
		logging.Int("max_attempts", q.maxAttempts),
		logging.String(logging.FieldErrorHint, "segment stays at the head of the queue and is retried"),
		logging.String(logging.FieldImpact, "later segments wait until this one resolves"),
	)
	return outcomeRetry, err
}

// afterStep mirrors the step result into the journal.
func (q *Queue) afterStep(ctx context.Context, seg segment.Segment, result outcome) {
	if q.journal == nil {
		return
	}
	var err error
	if result == outcomeRetry {
		err = q.journal.SaveSegment(context.WithoutCancel(ctx), seg)
	} else {
		err = q.journal.RemoveSegment(context.WithoutCancel(ctx), seg.SessionID, seg.Sequence)
	}
	if err != nil {
		q.logger.Warn("journal update failed",
			logging.String(logging.FieldSessionID, seg.SessionID),
			logging.Int64(logging.FieldSegmentSeq, seg.Sequence),
			logging.Error(err),
		)
	}
}

func (q *Queue) handlePause(status Status, seg segment.Segment, err error) {
	logging.ErrorWithContext(q.logger, "segment queue paused", "queue_paused",
		logging.String(logging.FieldSessionID, seg.SessionID),
		logging.Int64(logging.FieldSegmentSeq, seg.Sequence),
		logging.Int("attempts", seg.Attempts),
		logging.Int("pending", status.Pending),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "investigate the failure, then run 'callscribe queue resume' or 'callscribe queue reset'"),
	)
	if q.onPause != nil {
		q.onPause(status, seg, err)
	}
}
