package services_test

import (
	"context"
	"testing"

	"callscribe/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSessionID(ctx, "sess-1")
	ctx = services.WithMeetingID(ctx, "abc-defg-hij")
	ctx = services.WithSegmentSequence(ctx, 7)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.SessionIDFromContext(ctx); !ok || id != "sess-1" {
		t.Fatalf("unexpected session id: %v %v", id, ok)
	}
	if id, ok := services.MeetingIDFromContext(ctx); !ok || id != "abc-defg-hij" {
		t.Fatalf("unexpected meeting id: %v %v", id, ok)
	}
	if seq, ok := services.SegmentSequenceFromContext(ctx); !ok || seq != 7 {
		t.Fatalf("unexpected segment sequence: %v %v", seq, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithSessionID(ctx, "")
	ctx = services.WithComponent(ctx, "")
	if _, ok := services.SessionIDFromContext(ctx); ok {
		t.Fatal("expected no session id for blank value")
	}
	if _, ok := services.ComponentFromContext(ctx); ok {
		t.Fatal("expected no component for blank value")
	}
}
