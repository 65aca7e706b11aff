package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// Spool writes segments below a local directory.
type Spool struct {
	dir string
}

// NewSpool returns a spool rooted at dir.
func NewSpool(dir string) *Spool {
	return &Spool{dir: dir}
}

// Archive writes the segment atomically and returns its path. Rewriting the
// same segment replaces the earlier file.
func (s *Spool) Archive(ctx context.Context, seg segment.Segment, meta Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, filepath.FromSlash(ObjectName("", seg, meta.MeetingID)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "archive", "spool", "create spool directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".segment-*")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "archive", "spool", "create temp file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(seg.Audio); err != nil {
		_ = tmp.Close()
		return "", services.Wrap(services.ErrTransient, "archive", "spool", "write segment", err)
	}
	if err := tmp.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "archive", "spool", "close segment", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", services.Wrap(services.ErrTransient, "archive", "spool", fmt.Sprintf("rename into %s", target), err)
	}
	return target, nil
}

// Close is a no-op.
func (s *Spool) Close() error { return nil }
