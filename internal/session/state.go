package session

import (
	"errors"
	"time"

	"callscribe/internal/segment"
	"callscribe/internal/store"
)

// State is a recording session lifecycle state.
type State string

const (
	StateDetected     State = "detected"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// Live reports whether the session is capturing audio.
func (s State) Live() bool {
	return s == StateRecording || s == StateTranscribing
}

// Terminal reports whether the session can no longer change state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// LiveStates lists the capturing states, for restart recovery.
func LiveStates() []string {
	return []string{string(StateRecording), string(StateTranscribing)}
}

var (
	// ErrSessionConflict is returned when another session is already capturing.
	ErrSessionConflict = errors.New("another session is already capturing")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrNoActiveSession is returned by capture controls when nothing records.
	ErrNoActiveSession = errors.New("no active recording session")
	// ErrInvalidTransition is returned when an operation does not apply to the
	// session's current state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrNoLocalCapture is returned by Pause and Resume for sessions fed
	// through CaptureSegment.
	ErrNoLocalCapture = errors.New("session has no local capture")
)

// MeetingInfo describes the meeting a session records, as reported by
// whatever detected it.
type MeetingInfo struct {
	MeetingID string `json:"meeting_id"`
	Title     string `json:"title,omitempty"`
	Platform  string `json:"platform,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Session is a snapshot of one recording session.
type Session struct {
	ID         string        `json:"id"`
	Meeting    MeetingInfo   `json:"meeting"`
	TopicID    string        `json:"topic_id,omitempty"`
	State      State         `json:"state"`
	External   bool          `json:"external"`
	Capture    segment.State `json:"capture,omitempty"`
	Error      string        `json:"error,omitempty"`
	Segments   int64         `json:"segments"`
	Published  int64         `json:"published"`
	DetectedAt time.Time     `json:"detected_at"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	EndedAt    *time.Time    `json:"ended_at,omitempty"`
}

// Transcribing reports whether segments are sent to speech-to-text.
func (s Session) Transcribing() bool {
	return s.State == StateTranscribing
}

func (s Session) record(now time.Time) store.Session {
	started := s.StartedAt
	if started.IsZero() {
		started = s.DetectedAt
	}
	return store.Session{
		ID:           s.ID,
		MeetingID:    s.Meeting.MeetingID,
		Title:        s.Meeting.Title,
		Platform:     s.Meeting.Platform,
		TopicID:      s.TopicID,
		State:        string(s.State),
		Transcribing: s.Transcribing(),
		Error:        s.Error,
		Segments:     s.Segments,
		StartedAt:    started,
		UpdatedAt:    now,
		EndedAt:      s.EndedAt,
	}
}

// FromRecord converts a persisted session for display.
func FromRecord(rec store.Session) Session {
	return Session{
		ID:         rec.ID,
		Meeting:    MeetingInfo{MeetingID: rec.MeetingID, Title: rec.Title, Platform: rec.Platform},
		TopicID:    rec.TopicID,
		State:      State(rec.State),
		Error:      rec.Error,
		Segments:   rec.Segments,
		DetectedAt: rec.StartedAt,
		StartedAt:  rec.StartedAt,
		EndedAt:    rec.EndedAt,
	}
}
