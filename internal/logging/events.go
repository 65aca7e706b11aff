package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event is one log record retained by the EventHub.
type Event struct {
	Sequence  uint64            `json:"seq"`
	Timestamp time.Time         `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// EventHub keeps the most recent log events in a fixed-size ring.
type EventHub struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	next     uint64
}

// NewEventHub constructs a hub retaining up to capacity events.
func NewEventHub(capacity int) *EventHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &EventHub{capacity: capacity}
}

// Publish appends an event, evicting the oldest once full.
func (h *EventHub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	evt.Sequence = h.next
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.events) == h.capacity {
		copy(h.events, h.events[1:])
		h.events = h.events[:h.capacity-1]
	}
	h.events = append(h.events, evt)
}

// Since returns up to limit events with a sequence greater than since, and
// the latest sequence number issued.
func (h *EventHub) Since(since uint64, limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, limit)
	for _, evt := range h.events {
		if evt.Sequence <= since {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			break
		}
	}
	return out, h.next
}

// Tail returns the most recent limit events.
func (h *EventHub) Tail(limit int) []Event {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.events) {
		limit = len(h.events)
	}
	out := make([]Event, limit)
	copy(out, h.events[len(h.events)-limit:])
	return out
}

type hubHandler struct {
	next   slog.Handler
	hub    *EventHub
	preset []field
	groups []string
}

func newHubHandler(next slog.Handler, hub *EventHub) slog.Handler {
	return &hubHandler{next: next, hub: hub}
}

func (h *hubHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *hubHandler) Handle(ctx context.Context, record slog.Record) error {
	fields := append([]field(nil), h.preset...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.groups, attr)
		return true
	})
	evt := Event{
		Timestamp: record.Time.UTC(),
		Level:     levelLabel(record.Level),
		Message:   strings.TrimSpace(record.Message),
	}
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			evt.Component = valueString(f.value)
		case FieldSessionID:
			evt.SessionID = valueString(f.value)
		default:
			if evt.Fields == nil {
				evt.Fields = make(map[string]string, len(fields))
			}
			evt.Fields[f.key] = valueString(f.value)
		}
	}
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record)
}

func (h *hubHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.preset = append([]field(nil), h.preset...)
	for _, attr := range attrs {
		clone.preset = appendField(clone.preset, h.groups, attr)
	}
	return &clone
}

func (h *hubHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}
