// Package archive stores segment audio outside the queue: a local spool for
// sessions that record without transcribing, and an optional GCS bucket for
// transcribed segments.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"

	"callscribe/internal/segment"
)

// Archiver stores one segment and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, seg segment.Segment, meta Metadata) (string, error)
	Close() error
}

// Metadata travels with an archived segment.
type Metadata struct {
	MeetingID  string
	Transcript string
	Confidence float64
}

// ObjectName is the layout shared by every archiver:
// [prefix/]meetingID/sessionID/000001.format.
func ObjectName(prefix string, seg segment.Segment, meetingID string) string {
	if meetingID == "" {
		meetingID = "unassigned"
	}
	format := strings.TrimPrefix(strings.ToLower(seg.Format), ".")
	if format == "" {
		format = "bin"
	}
	name := fmt.Sprintf("%06d.%s", seg.Sequence, format)
	return path.Join(strings.Trim(prefix, "/"), safeComponent(meetingID), safeComponent(seg.SessionID), name)
}

func safeComponent(value string) string {
	value = strings.TrimSpace(value)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	value = replacer.Replace(value)
	if value == "" {
		return "_"
	}
	return value
}

// ContentType maps a segment format to a MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "wav":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	case "ogg", "opus":
		return "audio/ogg"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}
