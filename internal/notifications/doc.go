// Package notifications pushes session and queue events to ntfy.
//
// NewService returns a no-op when no topic is configured, so the session
// coordinator and the queue pause handler publish without checking.
package notifications
