package session

import (
	"context"
	"fmt"

	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// CaptureRequest is one externally cut segment for the active session.
type CaptureRequest struct {
	Audio       []byte `json:"audio_data"`
	Format      string `json:"format,omitempty"`
	StartTimeMs int64  `json:"start_time_ms"`
	EndTimeMs   int64  `json:"end_time_ms"`
	// Sequence must increase per session; zero assigns the next number.
	Sequence int64 `json:"sequence"`
}

// CaptureSegment queues an externally captured segment on the active
// session. It fails with queue.ErrQueuePaused while the queue is paused.
func (c *Coordinator) CaptureSegment(ctx context.Context, req CaptureRequest) (segment.Segment, error) {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	c.mu.Lock()
	s, ok := c.sessions[c.active]
	if !ok || !s.State.Live() {
		c.mu.Unlock()
		return segment.Segment{}, ErrNoActiveSession
	}
	if s.stopping {
		c.mu.Unlock()
		return segment.Segment{}, fmt.Errorf("capture for %s: session is stopping: %w", s.ID, ErrInvalidTransition)
	}
	if !s.External {
		c.mu.Unlock()
		return segment.Segment{}, services.Wrap(services.ErrValidation, "session", "capture",
			fmt.Sprintf("session %s captures locally", s.ID), nil)
	}
	seq := req.Sequence
	if seq <= 0 {
		seq = s.lastCapture + 1
	}
	if seq <= s.lastCapture {
		last := s.lastCapture
		c.mu.Unlock()
		return segment.Segment{}, services.Wrap(services.ErrValidation, "session", "capture",
			fmt.Sprintf("sequence %d is not after %d", seq, last), nil)
	}
	previous := s.lastCapture
	s.lastCapture = seq
	q := c.queue
	seg := segment.Segment{
		SessionID:   s.ID,
		Audio:       req.Audio,
		Format:      req.Format,
		StartTimeMs: req.StartTimeMs,
		EndTimeMs:   req.EndTimeMs,
		Sequence:    seq,
		CreatedAt:   c.clock().UTC(),
	}
	c.mu.Unlock()

	if err := q.EnqueueCapture(ctx, seg); err != nil {
		c.mu.Lock()
		if s.lastCapture == seq {
			s.lastCapture = previous
		}
		c.mu.Unlock()
		return segment.Segment{}, err
	}
	c.mu.Lock()
	s.Segments++
	c.mu.Unlock()
	return seg, nil
}
