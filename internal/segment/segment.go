package segment

import "time"

// Segment is one unit of transcription work. Only Attempts changes after
// creation.
type Segment struct {
	SessionID   string    `json:"session_id"`
	Audio       []byte    `json:"-"`
	Format      string    `json:"format,omitempty"`
	StartTimeMs int64     `json:"start_time_ms"`
	EndTimeMs   int64     `json:"end_time_ms"`
	Sequence    int64     `json:"sequence"`
	Attempts    int       `json:"attempts"`
	CreatedAt   time.Time `json:"created_at"`
}

// Size returns the payload length in bytes.
func (s Segment) Size() int {
	return len(s.Audio)
}

// Duration returns the wall-clock span the segment covers.
func (s Segment) Duration() time.Duration {
	if s.EndTimeMs <= s.StartTimeMs {
		return 0
	}
	return time.Duration(s.EndTimeMs-s.StartTimeMs) * time.Millisecond
}
