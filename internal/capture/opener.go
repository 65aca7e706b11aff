package capture

import (
	"context"
	"log/slog"

	"callscribe/internal/config"
	"callscribe/internal/logging"
	"callscribe/internal/segment"
	"callscribe/internal/services"
	"callscribe/internal/session"
)

// Opener returns a session.StreamOpener that starts ffmpeg with the [capture]
// settings for every recorded meeting.
func Opener(cfg *config.Config, logger *slog.Logger) session.StreamOpener {
	opts := OptionsFromConfig(cfg, logger)
	return func(ctx context.Context, meeting session.MeetingInfo) (segment.Stream, error) {
		stream, err := Open(ctx, opts)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "capture", "open",
				"could not start ffmpeg for meeting "+meeting.MeetingID, err)
		}
		logging.NewComponentLogger(logger, "capture").Debug("capture opened",
			logging.String(logging.FieldMeetingID, meeting.MeetingID),
		)
		return stream, nil
	}
}
