package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Session is the persisted view of one recording session.
type Session struct {
	ID           string     `json:"id"`
	MeetingID    string     `json:"meeting_id"`
	Title        string     `json:"title,omitempty"`
	Platform     string     `json:"platform,omitempty"`
	TopicID      string     `json:"topic_id,omitempty"`
	State        string     `json:"state"`
	Transcribing bool       `json:"transcribing"`
	Error        string     `json:"error,omitempty"`
	Segments     int64      `json:"segments"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Topic is one meeting to ledger topic mapping.
type Topic struct {
	MeetingID string    `json:"meeting_id"`
	TopicID   string    `json:"topic_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores topic mappings and session history. Both the SQLite
// Store and RedisRepository implement it.
type Repository interface {
	LookupTopic(ctx context.Context, meetingID string) (string, bool, error)
	SaveTopic(ctx context.Context, meetingID, topicID string) error
	SaveSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	FailActiveSessions(ctx context.Context, liveStates []string, reason string) (int64, error)
	Close() error
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
