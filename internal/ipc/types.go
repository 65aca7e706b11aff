package ipc

import (
	"callscribe/internal/daemon"
	"callscribe/internal/logging"
	"callscribe/internal/queue"
	"callscribe/internal/session"
)

// StartRequest registers a meeting and starts recording it.
type StartRequest struct {
	Meeting session.MeetingInfo `json:"meeting"`
	// External sessions receive audio through CaptureSegment instead of the
	// local capture device.
	External   bool `json:"external"`
	Transcribe bool `json:"transcribe"`
}

// SessionResponse carries one session snapshot.
type SessionResponse struct {
	Session session.Session `json:"session"`
}

// StopRequest stops a session. An empty ID targets the active session.
type StopRequest struct {
	SessionID string `json:"session_id"`
}

// PauseRequest pauses local capture on the active session.
type PauseRequest struct{}

// ResumeRequest resumes local capture on the active session.
type ResumeRequest struct{}

// TranscribeRequest switches a session to transcribing. An empty ID targets
// the active session.
type TranscribeRequest struct {
	SessionID string `json:"session_id"`
}

// SessionRequest fetches one session by id.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// CaptureRequest submits one externally captured segment.
type CaptureRequest = session.CaptureRequest

// CaptureResponse acknowledges a queued segment.
type CaptureResponse struct {
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"sequence"`
	Bytes     int    `json:"bytes"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status snapshot.
type StatusResponse = daemon.Status

// QueueResetRequest empties the segment queue.
type QueueResetRequest struct{}

// QueueResetResponse reports how many segments were discarded.
type QueueResetResponse struct {
	Discarded int `json:"discarded"`
}

// QueueResumeRequest clears a queue pause.
type QueueResumeRequest struct{}

// QueueStatusRequest fetches the queue snapshot.
type QueueStatusRequest struct{}

// QueueStatusResponse wraps the queue snapshot.
type QueueStatusResponse struct {
	Queue queue.Status `json:"queue"`
}

// SessionsRequest lists recent sessions.
type SessionsRequest struct {
	Limit int `json:"limit"`
}

// SessionsResponse returns sessions newest first.
type SessionsResponse struct {
	Sessions []session.Session `json:"sessions"`
}

// LogTailRequest fetches log events after a sequence number.
type LogTailRequest struct {
	Since uint64 `json:"since"`
	Limit int    `json:"limit"`
}

// LogTailResponse returns events and the cursor for the next call.
type LogTailResponse struct {
	Events []logging.Event `json:"events"`
	Next   uint64          `json:"next"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ShutdownRequest stops the daemon process.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges the shutdown.
type ShutdownResponse struct {
	Stopped bool `json:"stopped"`
}
