package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callscribe/internal/ledger"
	"callscribe/internal/logging"
	"callscribe/internal/notifications"
	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// StartRecording moves a detected session to recording. It resolves the
// meeting's ledger topic, starts local capture unless opts.External is set,
// and publishes meeting_start.
func (c *Coordinator) StartRecording(ctx context.Context, id string, opts StartOptions) (Session, error) {
	c.mu.Lock()
	s, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	if c.active != "" {
		active := c.active
		c.mu.Unlock()
		if active == id {
			return Session{}, fmt.Errorf("start %s: already starting: %w", id, ErrInvalidTransition)
		}
		return Session{}, fmt.Errorf("start %s: %w (active session %s)", id, ErrSessionConflict, active)
	}
	if s.State != StateDetected {
		state := s.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("start %s from %s: %w", id, state, ErrInvalidTransition)
	}
	q := c.queue
	if q == nil {
		c.mu.Unlock()
		return Session{}, services.Wrap(services.ErrConfiguration, "session", "start", "segment queue not attached", nil)
	}
	c.active = id
	meeting := s.Meeting
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.active == id {
			c.active = ""
		}
		c.mu.Unlock()
	}

	ctx = services.WithMeetingID(services.WithSessionID(ctx, id), meeting.MeetingID)
	logger := logging.WithContext(ctx, c.logger)

	topicID, err := c.resolveTopic(ctx, meeting)
	if err != nil {
		release()
		return Session{}, err
	}

	var seg *segment.Segmenter
	if !opts.External {
		if c.openStream == nil {
			release()
			return Session{}, fmt.Errorf("start %s: %w", id, ErrNoLocalCapture)
		}
		// Capture outlives the request that started it.
		streamCtx := services.WithMeetingID(services.WithSessionID(c.ctx, id), meeting.MeetingID)
		stream, err := c.openStream(streamCtx, meeting)
		if err != nil {
			release()
			return Session{}, fmt.Errorf("open capture for %s: %w", meeting.MeetingID, err)
		}
		seg = c.newSegmenter()
		if err := seg.Start(c.ctx, id, stream); err != nil {
			if relErr := stream.Release(); relErr != nil {
				logger.Warn("capture release failed", logging.Error(relErr))
			}
			release()
			return Session{}, fmt.Errorf("start capture for %s: %w", meeting.MeetingID, err)
		}
	}

	now := c.clock()
	c.mu.Lock()
	s.TopicID = topicID
	s.State = StateRecording
	if opts.Transcribe {
		s.State = StateTranscribing
	}
	s.External = opts.External
	s.StartedAt = now.UTC()
	s.segmenter = seg
	if seg != nil {
		s.forwarded = make(chan struct{})
		c.wg.Add(1)
		go c.forward(id, seg, q, s.forwarded)
	}
	if c.heartbeat > 0 {
		beatCtx, cancel := context.WithCancel(c.ctx)
		s.stopBeat = cancel
		c.wg.Add(1)
		go c.heartbeatLoop(beatCtx, id)
	}
	snapshot := c.snapshotLocked(s)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	logger.Info("recording started",
		logging.String("topic_id", topicID),
		logging.Bool("external", opts.External),
		logging.String("state", string(snapshot.State)),
	)
	c.publish(ctx, topicID, ledger.NewMeetingStart(meeting.MeetingID, summary(snapshot, now), now))
	c.notify(ctx, notifications.EventSessionStarted, notifications.Payload{"meeting": meetingLabel(meeting)})
	return snapshot, nil
}

// EnableTranscription moves a recording session to transcribing. It is a
// no-op for a session that already transcribes.
func (c *Coordinator) EnableTranscription(ctx context.Context, id string) (Session, error) {
	c.mu.Lock()
	s, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	switch s.State {
	case StateTranscribing:
		snapshot := c.snapshotLocked(s)
		c.mu.Unlock()
		return snapshot, nil
	case StateRecording:
	default:
		state := s.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("enable transcription for %s in %s: %w", id, state, ErrInvalidTransition)
	}
	s.State = StateTranscribing
	snapshot := c.snapshotLocked(s)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	c.logger.Info("transcription enabled", logging.String(logging.FieldSessionID, id))
	return snapshot, nil
}

// Pause suspends local capture of the active session.
func (c *Coordinator) Pause(ctx context.Context) (Session, error) {
	return c.control(ctx, "pause", (*segment.Segmenter).Pause)
}

// Resume restarts local capture of the active session.
func (c *Coordinator) Resume(ctx context.Context) (Session, error) {
	return c.control(ctx, "resume", (*segment.Segmenter).Resume)
}

func (c *Coordinator) control(_ context.Context, name string, action func(*segment.Segmenter) error) (Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[c.active]
	if !ok || !s.State.Live() {
		c.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}
	seg := s.segmenter
	c.mu.Unlock()
	if seg == nil {
		return Session{}, fmt.Errorf("%s %s: %w", name, s.ID, ErrNoLocalCapture)
	}
	if err := action(seg); err != nil {
		return Session{}, fmt.Errorf("%s capture: %w", name, err)
	}
	c.mu.Lock()
	snapshot := c.snapshotLocked(s)
	c.mu.Unlock()
	return snapshot, nil
}

// Stop completes a session. Local capture is flushed and the session's
// queued segments are drained before the session leaves the capturing
// states; segments still queued when the queue pauses or the drain times out
// are discarded when they reach the head. meeting_end is published last.
func (c *Coordinator) Stop(ctx context.Context, id string) (Session, error) {
	c.mu.Lock()
	s, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	if s.State.Terminal() || s.stopping {
		state := s.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("stop %s in %s: %w", id, state, ErrInvalidTransition)
	}
	if s.State == StateDetected {
		now := c.clock().UTC()
		s.State = StateCompleted
		s.EndedAt = &now
		snapshot := c.snapshotLocked(s)
		c.mu.Unlock()
		c.persist(ctx, snapshot)
		return snapshot, nil
	}
	s.stopping = true
	seg, forwarded, q := s.segmenter, s.forwarded, c.queue
	c.mu.Unlock()

	logger := logging.WithContext(services.WithSessionID(ctx, id), c.logger)
	if seg != nil {
		if err := seg.Stop(); err != nil && !errors.Is(err, segment.ErrNotRunning) {
			logger.Warn("capture stop reported errors", logging.Error(err))
		}
		<-forwarded
	}

	drainCtx, cancel := context.WithTimeout(ctx, c.drainTimeout)
	drained, drainErr := q.Drain(drainCtx, id)
	cancel()
	if !drained {
		pending := q.Status()
		logging.WarnWithContext(logger, "session stopped before its segments drained", "session_drain_incomplete",
			logging.Bool("queue_paused", pending.Paused),
			logging.Int("pending", pending.Pending),
			logging.Error(drainErr),
			logging.String(logging.FieldImpact, "remaining segments of this session will be discarded"),
			logging.String(logging.FieldErrorHint, "check 'callscribe queue status' for the failing segment"),
		)
	}

	now := c.clock()
	c.mu.Lock()
	ended := now.UTC()
	s.State = StateCompleted
	s.EndedAt = &ended
	if s.stopBeat != nil {
		s.stopBeat()
	}
	snapshot := c.snapshotLocked(s)
	if c.active == id {
		c.active = ""
	}
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	logger.Info("session completed",
		logging.Int64("segments", snapshot.Segments),
		logging.Int64("published", snapshot.Published),
		logging.Bool("drained", drained),
	)
	c.publish(ctx, snapshot.TopicID, ledger.NewMeetingEnd(snapshot.Meeting.MeetingID, summary(snapshot, now), now))
	c.notify(ctx, notifications.EventSessionCompleted, notifications.Payload{
		"meeting":  meetingLabel(snapshot.Meeting),
		"segments": snapshot.Segments,
		"duration": ended.Sub(snapshot.StartedAt),
	})
	return snapshot, nil
}

// Fail moves a non-terminal session to error. Local capture stops and the
// session's queued segments are discarded.
func (c *Coordinator) Fail(ctx context.Context, id string, cause error) (Session, error) {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	c.mu.Lock()
	s, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	if s.State.Terminal() {
		state := s.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("fail %s in %s: %w", id, state, ErrInvalidTransition)
	}
	ended := c.clock().UTC()
	s.State = StateError
	s.Error = cause.Error()
	s.EndedAt = &ended
	if s.stopBeat != nil {
		s.stopBeat()
	}
	seg := s.segmenter
	snapshot := c.snapshotLocked(s)
	if c.active == id {
		c.active = ""
	}
	c.mu.Unlock()

	if seg != nil {
		if err := seg.Stop(); err != nil && !errors.Is(err, segment.ErrNotRunning) {
			c.logger.Warn("capture stop reported errors", logging.String(logging.FieldSessionID, id), logging.Error(err))
		}
	}
	c.persist(ctx, snapshot)
	logging.ErrorWithContext(c.logger, "session failed", "session_failed",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldMeetingID, snapshot.Meeting.MeetingID),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "start a new session once the cause is fixed"),
	)
	c.notify(ctx, notifications.EventSessionError, notifications.Payload{
		"meeting": meetingLabel(snapshot.Meeting),
		"error":   cause,
	})
	return snapshot, nil
}

// Reject closes a detected session whose start was refused, so it does not
// linger as detected. Sessions in any other state are left alone.
func (c *Coordinator) Reject(ctx context.Context, id string, cause error) (Session, error) {
	c.mu.Lock()
	s, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return Session{}, err
	}
	if s.State != StateDetected {
		state := s.State
		c.mu.Unlock()
		return Session{}, fmt.Errorf("reject %s in %s: %w", id, state, ErrInvalidTransition)
	}
	ended := c.clock().UTC()
	s.State = StateError
	s.Error = "start rejected"
	if cause != nil {
		s.Error = "start rejected: " + cause.Error()
	}
	s.EndedAt = &ended
	snapshot := c.snapshotLocked(s)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	logging.WarnWithContext(c.logger, "session start rejected", "session_rejected",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldMeetingID, snapshot.Meeting.MeetingID),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "meeting is not recorded"),
	)
	return snapshot, nil
}

// forward moves segmenter output into the queue. When capture ends without
// a Stop the session is failed.
func (c *Coordinator) forward(id string, seg *segment.Segmenter, q SegmentQueue, done chan struct{}) {
	defer c.wg.Done()
	for s := range seg.Segments() {
		if err := q.Enqueue(c.ctx, s); err != nil {
			logging.ErrorWithContext(c.logger, "segment not queued", "segment_enqueue_failed",
				logging.String(logging.FieldSessionID, id),
				logging.Int64(logging.FieldSegmentSeq, s.Sequence),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the state database; the segment journal write failed"),
			)
			continue
		}
		c.mu.Lock()
		if l, ok := c.sessions[id]; ok {
			l.Segments++
		}
		c.mu.Unlock()
	}
	close(done)

	c.mu.Lock()
	l, ok := c.sessions[id]
	unexpected := ok && l.State.Live() && !l.stopping && c.ctx.Err() == nil
	c.mu.Unlock()
	if unexpected {
		if _, err := c.Fail(c.ctx, id, errors.New("capture ended unexpectedly")); err != nil {
			c.logger.Debug("fail after capture end", logging.Error(err))
		}
	}
}

// resolveTopic returns the meeting's topic, creating it on first use.
func (c *Coordinator) resolveTopic(ctx context.Context, meeting MeetingInfo) (string, error) {
	c.topicMu.Lock()
	defer c.topicMu.Unlock()

	if topicID, ok := c.topics[meeting.MeetingID]; ok {
		return topicID, nil
	}
	topicID, ok, err := c.repo.LookupTopic(ctx, meeting.MeetingID)
	if err != nil {
		return "", fmt.Errorf("lookup topic for %s: %w", meeting.MeetingID, err)
	}
	if ok {
		c.topics[meeting.MeetingID] = topicID
		return topicID, nil
	}

	memo := ledger.Memo(c.memoPrefix, meeting.MeetingID, meeting.Title, meeting.Platform)
	topicID, err = c.ledger.CreateTopic(ctx, memo)
	if err != nil {
		return "", fmt.Errorf("create topic for %s: %w", meeting.MeetingID, err)
	}
	c.topics[meeting.MeetingID] = topicID

	if err := c.repo.SaveTopic(ctx, meeting.MeetingID, topicID); err != nil {
		logging.WarnWithContext(c.logger, "topic mapping not persisted", "topic_persist_failed",
			logging.String(logging.FieldMeetingID, meeting.MeetingID),
			logging.String("topic_id", topicID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a restarted daemon will create a second topic for this meeting"),
		)
	} else if winner, ok, err := c.repo.LookupTopic(ctx, meeting.MeetingID); err == nil && ok && winner != topicID {
		logging.WarnWithContext(c.logger, "another writer mapped this meeting first", "topic_mapping_lost",
			logging.String(logging.FieldMeetingID, meeting.MeetingID),
			logging.String("created_topic_id", topicID),
			logging.String("topic_id", winner),
			logging.String(logging.FieldImpact, "the created topic stays empty"),
		)
		topicID = winner
		c.topics[meeting.MeetingID] = winner
	}
	c.logger.Info("ledger topic created",
		logging.String(logging.FieldMeetingID, meeting.MeetingID),
		logging.String("topic_id", topicID),
		logging.String("memo", memo),
	)
	return topicID, nil
}

// publish submits a lifecycle message. Failures are logged only.
func (c *Coordinator) publish(ctx context.Context, topicID string, msg ledger.Message) {
	encoded, err := msg.Encode()
	if err == nil {
		_, err = c.ledger.SubmitMessage(context.WithoutCancel(ctx), topicID, encoded)
	}
	if err != nil {
		logging.WarnWithContext(c.logger, "ledger message not published", "ledger_publish_failed",
			logging.String("type", string(msg.Type)),
			logging.String(logging.FieldMeetingID, msg.MeetingID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the topic misses this lifecycle message"),
			logging.String(logging.FieldErrorHint, "check that a signer is connected"),
		)
	}
}

func summary(s Session, now time.Time) ledger.Summary {
	out := ledger.Summary{
		SessionID: s.ID,
		Title:     s.Meeting.Title,
		Platform:  s.Meeting.Platform,
		StartedAt: s.StartedAt,
		Segments:  s.Segments,
		Published: s.Published,
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
		out.DurationMs = ended.Sub(s.StartedAt).Milliseconds()
	} else if !s.StartedAt.IsZero() {
		out.DurationMs = now.Sub(s.StartedAt).Milliseconds()
	}
	return out
}

func meetingLabel(m MeetingInfo) string {
	if m.Title != "" {
		return m.Title
	}
	return m.MeetingID
}
