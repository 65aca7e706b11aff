package queue

import "errors"

var (
	// ErrQueuePaused rejects capture requests while the queue is paused.
	ErrQueuePaused = errors.New("segment queue is paused")
	// ErrNotStarted is returned by Drain before Start.
	ErrNotStarted = errors.New("segment queue not started")
)
