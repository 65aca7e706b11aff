package logging

import (
	"context"
	"log/slog"

	"callscribe/internal/services"
)

const (
	// FieldComponent names the emitting component (queue, segmenter, proxy, ...).
	FieldComponent = "component"
	// FieldSessionID identifies the recording session.
	FieldSessionID = "session_id"
	// FieldMeetingID identifies the meeting a session belongs to.
	FieldMeetingID = "meeting_id"
	// FieldSegmentSeq is the segment sequence number within a session.
	FieldSegmentSeq = "segment_seq"
	// FieldTopicID is the ledger topic a session publishes to.
	FieldTopicID = "topic_id"
	// FieldCorrelationID carries request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies notable events for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the operator's next step.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.SessionIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := services.MeetingIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldMeetingID, id))
	}
	if seq, ok := services.SegmentSequenceFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldSegmentSeq, seq))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
