package session

import (
	"context"
	"time"

	"callscribe/internal/ledger"
)

// heartbeatLoop publishes a heartbeat for id every period until ctx ends or
// the session stops capturing.
func (c *Coordinator) heartbeatLoop(ctx context.Context, id string) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.beat(ctx, id) {
				return
			}
		}
	}
}

func (c *Coordinator) beat(ctx context.Context, id string) bool {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if !ok || !s.State.Live() {
		c.mu.Unlock()
		return false
	}
	snapshot := c.snapshotLocked(s)
	q := c.queue
	c.mu.Unlock()

	status := ledger.HeartbeatStatus{
		SessionID: snapshot.ID,
		State:     string(snapshot.State),
		Segments:  snapshot.Segments,
	}
	if q != nil {
		qs := q.Status()
		status.QueuePending = qs.Pending
		status.QueuePaused = qs.Paused
	}
	c.publish(ctx, snapshot.TopicID, ledger.NewHeartbeat(snapshot.Meeting.MeetingID, status, c.clock()))
	return true
}
