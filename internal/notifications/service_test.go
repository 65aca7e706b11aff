package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callscribe/internal/config"
	"callscribe/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newNtfy(t *testing.T, mutate func(*config.Config)) (notifications.Service, *[]captured) {
	t.Helper()
	var got []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Sessions = true
	cfg.Notifications.Errors = true
	cfg.Notifications.QueuePaused = true
	if mutate != nil {
		mutate(&cfg)
	}
	return notifications.NewService(&cfg), &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventSessionStarted, notifications.Payload{"meeting": "m"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyFormatsEvents(t *testing.T) {
	tests := []struct {
		name        string
		event       notifications.Event
		payload     notifications.Payload
		expectTitle string
		expectBody  string
		expectTags  string
		expectPrio  string
	}{
		{
			name:        "session started",
			event:       notifications.EventSessionStarted,
			payload:     notifications.Payload{"meeting": "Weekly sync"},
			expectTitle: "callscribe - Recording",
			expectBody:  "🎙️ Recording started: Weekly sync",
			expectTags:  "callscribe,session,started",
		},
		{
			name:        "session completed",
			event:       notifications.EventSessionCompleted,
			payload:     notifications.Payload{"meeting": "Weekly sync", "segments": int64(12), "duration": 90 * time.Second},
			expectTitle: "callscribe - Complete",
			expectBody:  "✅ Session complete: Weekly sync (12 segments) in 1m30s",
			expectTags:  "callscribe,session,completed",
		},
		{
			name:        "session error",
			event:       notifications.EventSessionError,
			payload:     notifications.Payload{"meeting": "Standup", "error": errors.New("capture device lost")},
			expectTitle: "callscribe - Error",
			expectBody:  "❌ Session error in Standup: capture device lost",
			expectTags:  "callscribe,error,alert",
			expectPrio:  "high",
		},
		{
			name:        "queue paused",
			event:       notifications.EventQueuePaused,
			payload:     notifications.Payload{"sequence": int64(4), "attempts": 3, "pending": 2, "error": "stt returned 503"},
			expectTitle: "callscribe - Queue Paused",
			expectBody:  "⏸️ Segment queue paused at segment 4 after 3 attempts (2 pending)\nstt returned 503",
			expectTags:  "callscribe,queue,paused",
			expectPrio:  "high",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, got := newNtfy(t, nil)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}
			if len(*got) != 1 {
				t.Fatalf("expected one request, got %d", len(*got))
			}
			req := (*got)[0]
			if req.title != tc.expectTitle || req.body != tc.expectBody || req.tags != tc.expectTags || req.priority != tc.expectPrio {
				t.Fatalf("unexpected notification %+v", req)
			}
		})
	}
}

func TestNtfyHonoursCategoryToggles(t *testing.T) {
	svc, got := newNtfy(t, func(cfg *config.Config) { cfg.Notifications.Sessions = false })
	if err := svc.Publish(context.Background(), notifications.EventSessionStarted, notifications.Payload{"meeting": "m"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(*got) != 1 || !strings.Contains((*got)[0].body, "test") {
		t.Fatalf("expected only the test notification, got %+v", *got)
	}
}

func TestNtfyReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}
