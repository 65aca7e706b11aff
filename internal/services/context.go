package services

import "context"

type contextKey string

const (
	sessionIDKey  contextKey = "session_id"
	meetingIDKey  contextKey = "meeting_id"
	segmentSeqKey contextKey = "segment_seq"
	componentKey  contextKey = "component"
	requestIDKey  contextKey = "request_id"
	idemKey       contextKey = "idempotency_key"
)

// WithSessionID annotates context with the recording session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the recording session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithMeetingID annotates context with the meeting identifier.
func WithMeetingID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, meetingIDKey, id)
}

// MeetingIDFromContext extracts the meeting identifier if present.
func MeetingIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(meetingIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSegmentSequence annotates context with the segment sequence number.
func WithSegmentSequence(ctx context.Context, seq int64) context.Context {
	return context.WithValue(ctx, segmentSeqKey, seq)
}

// SegmentSequenceFromContext extracts the segment sequence number if present.
func SegmentSequenceFromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(segmentSeqKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithComponent annotates context with the pipeline component name.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext returns the component name if present.
func ComponentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithIdempotencyKey marks a ledger write so repeated attempts can be
// recognised downstream.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idemKey, key)
}

// IdempotencyKeyFromContext returns the idempotency key if present.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(idemKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
