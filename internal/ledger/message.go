package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates ledger payloads.
type MessageType string

const (
	TypeTranscription MessageType = "transcription"
	TypeMeetingStart  MessageType = "meeting_start"
	TypeMeetingEnd    MessageType = "meeting_end"
	TypeHeartbeat     MessageType = "heartbeat"
)

// Message is the payload serialized before SUBMIT_MESSAGE. Exactly one of
// Segment, Summary or Status is set depending on Type.
type Message struct {
	Type      MessageType      `json:"type"`
	MeetingID string           `json:"meetingId"`
	Segment   *SegmentBody     `json:"segment,omitempty"`
	Summary   *Summary         `json:"summary,omitempty"`
	Status    *HeartbeatStatus `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// SegmentBody carries one transcribed segment. Times are milliseconds from
// the start of the recording.
type SegmentBody struct {
	Text       string  `json:"text"`
	StartTime  int64   `json:"startTime"`
	EndTime    int64   `json:"endTime"`
	Confidence float64 `json:"confidence"`
	Sequence   int64   `json:"sequence"`
}

// Summary describes a meeting at its start or end.
type Summary struct {
	SessionID  string     `json:"sessionId"`
	Title      string     `json:"title,omitempty"`
	Platform   string     `json:"platform,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
	Segments   int64      `json:"segments,omitempty"`
	Published  int64      `json:"published,omitempty"`
}

// HeartbeatStatus is the periodic liveness payload of a recording session.
type HeartbeatStatus struct {
	SessionID    string `json:"sessionId"`
	State        string `json:"state"`
	Segments     int64  `json:"segments"`
	QueuePending int    `json:"queuePending"`
	QueuePaused  bool   `json:"queuePaused"`
}

// NewTranscription builds a transcription message.
func NewTranscription(meetingID string, body SegmentBody, at time.Time) Message {
	return Message{Type: TypeTranscription, MeetingID: meetingID, Segment: &body, Timestamp: at.UTC()}
}

// NewMeetingStart builds a meeting_start message.
func NewMeetingStart(meetingID string, summary Summary, at time.Time) Message {
	return Message{Type: TypeMeetingStart, MeetingID: meetingID, Summary: &summary, Timestamp: at.UTC()}
}

// NewMeetingEnd builds a meeting_end message.
func NewMeetingEnd(meetingID string, summary Summary, at time.Time) Message {
	return Message{Type: TypeMeetingEnd, MeetingID: meetingID, Summary: &summary, Timestamp: at.UTC()}
}

// NewHeartbeat builds a heartbeat message.
func NewHeartbeat(meetingID string, status HeartbeatStatus, at time.Time) Message {
	return Message{Type: TypeHeartbeat, MeetingID: meetingID, Status: &status, Timestamp: at.UTC()}
}

// Encode serializes the message for SUBMIT_MESSAGE.
func (m Message) Encode() (string, error) {
	if m.MeetingID == "" {
		return "", fmt.Errorf("encode %s message: meeting id is empty", m.Type)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return string(data), nil
}

// Decode parses a serialized ledger message.
func Decode(raw string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Message{}, fmt.Errorf("decode ledger message: %w", err)
	}
	return m, nil
}

// SegmentKey is the idempotency key for the transcription of one segment.
func SegmentKey(sessionID string, sequence int64) string {
	return fmt.Sprintf("segment:%s:%d", sessionID, sequence)
}
