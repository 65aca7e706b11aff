package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callscribe/internal/logging"
	"callscribe/internal/notifications"
	"callscribe/internal/queue"
	"callscribe/internal/segment"
)

const notifyTimeout = 15 * time.Second

// PauseNotifier returns a queue.PauseHandler that publishes a queue_paused
// notification. The handler does not block the queue.
func PauseNotifier(ctx context.Context, notifier notifications.Service, logger *slog.Logger) queue.PauseHandler {
	logger = logging.NewComponentLogger(logger, "workflow-notify")
	return func(status queue.Status, seg segment.Segment, cause error) {
		if notifier == nil {
			return
		}
		payload := notifications.Payload{
			"session":  seg.SessionID,
			"sequence": seg.Sequence,
			"attempts": seg.Attempts,
			"pending":  status.Pending,
		}
		if cause != nil {
			payload["error"] = cause
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
			defer cancel()
			if err := notifier.Publish(sendCtx, notifications.EventQueuePaused, payload); err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("daemon shutting down, could not send queue pause notification")
					return
				}
				logger.Debug("queue pause notification failed", logging.Error(err))
			}
		}()
	}
}
