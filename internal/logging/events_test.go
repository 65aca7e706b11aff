package logging_test

import (
	"testing"

	"callscribe/internal/logging"
)

func TestEventHubEvictsOldest(t *testing.T) {
	hub := logging.NewEventHub(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		hub.Publish(logging.Event{Message: msg})
	}

	tail := hub.Tail(0)
	if len(tail) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(tail))
	}
	if tail[0].Message != "b" || tail[2].Message != "d" {
		t.Fatalf("unexpected retained window: %+v", tail)
	}
	if tail[2].Sequence != 4 {
		t.Fatalf("expected sequence 4, got %d", tail[2].Sequence)
	}
}

func TestEventHubSince(t *testing.T) {
	hub := logging.NewEventHub(10)
	for _, msg := range []string{"a", "b", "c"} {
		hub.Publish(logging.Event{Message: msg})
	}

	events, latest := hub.Since(1, 0)
	if latest != 3 {
		t.Fatalf("latest = %d", latest)
	}
	if len(events) != 2 || events[0].Message != "b" {
		t.Fatalf("unexpected events: %+v", events)
	}

	events, _ = hub.Since(0, 1)
	if len(events) != 1 || events[0].Message != "a" {
		t.Fatalf("expected limit to apply, got %+v", events)
	}
}
