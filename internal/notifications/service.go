package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"callscribe/internal/config"
)

const userAgent = "callscribe/0.1.0"

// Event names a notification the pipeline can emit.
type Event string

const (
	EventSessionStarted   Event = "session_started"
	EventSessionCompleted Event = "session_completed"
	EventSessionError     Event = "session_error"
	EventQueuePaused      Event = "queue_paused"
	EventTest             Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy notifier when a topic is configured and a no-op
// otherwise. Per-category toggles from [notifications] are honoured here so
// callers publish unconditionally.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventSessionStarted:   cfg.Notifications.Sessions,
			EventSessionCompleted: cfg.Notifications.Sessions,
			EventSessionError:     cfg.Notifications.Errors,
			EventQueuePaused:      cfg.Notifications.QueuePaused,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	meeting := payloadString(payload, "meeting")
	switch event {
	case EventSessionStarted:
		return message{
			title: "callscribe - Recording",
			body:  fmt.Sprintf("🎙️ Recording started: %s", meeting),
			tags:  []string{"callscribe", "session", "started"},
		}, true
	case EventSessionCompleted:
		body := fmt.Sprintf("✅ Session complete: %s", meeting)
		if segments := payloadString(payload, "segments"); segments != "" {
			body += fmt.Sprintf(" (%s segments)", segments)
		}
		if duration, ok := payload["duration"].(time.Duration); ok && duration > 0 {
			body += fmt.Sprintf(" in %s", duration.Round(time.Second))
		}
		return message{
			title: "callscribe - Complete",
			body:  body,
			tags:  []string{"callscribe", "session", "completed"},
		}, true
	case EventSessionError:
		var b strings.Builder
		b.WriteString("❌ Session error")
		if meeting != "" {
			b.WriteString(" in ")
			b.WriteString(meeting)
		}
		b.WriteString(": ")
		if reason := payloadString(payload, "error"); reason != "" {
			b.WriteString(reason)
		} else {
			b.WriteString("unknown")
		}
		return message{
			title:    "callscribe - Error",
			body:     b.String(),
			tags:     []string{"callscribe", "error", "alert"},
			priority: "high",
		}, true
	case EventQueuePaused:
		body := fmt.Sprintf("⏸️ Segment queue paused at segment %s after %s attempts (%s pending)",
			payloadString(payload, "sequence"), payloadString(payload, "attempts"), payloadString(payload, "pending"))
		if reason := payloadString(payload, "error"); reason != "" {
			body += "\n" + reason
		}
		return message{
			title:    "callscribe - Queue Paused",
			body:     body,
			tags:     []string{"callscribe", "queue", "paused"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "callscribe - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"callscribe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case error:
		return strings.TrimSpace(value.Error())
	default:
		return fmt.Sprint(value)
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
