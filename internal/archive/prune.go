package archive

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callscribe/internal/logging"
)

// PruneResult reports what a spool prune removed.
type PruneResult struct {
	Removed []string
	Bytes   int64
	Errors  []PruneError
}

// PruneError pairs a spool path with the error that kept it.
type PruneError struct {
	Path  string
	Error error
}

// PruneSpool removes session directories under dir whose newest file is older
// than maxAge. Sessions listed in keep are skipped. Meeting directories left
// empty are removed too. A non-positive maxAge prunes nothing.
func PruneSpool(ctx context.Context, dir string, maxAge time.Duration, keep map[string]struct{}, logger *slog.Logger) PruneResult {
	result := PruneResult{}
	dir = strings.TrimSpace(dir)
	if dir == "" || maxAge <= 0 {
		return result
	}

	meetings, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, PruneError{Path: dir, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, meeting := range meetings {
		if !meeting.IsDir() {
			continue
		}
		meetingPath := filepath.Join(dir, meeting.Name())
		sessions, err := os.ReadDir(meetingPath)
		if err != nil {
			result.Errors = append(result.Errors, PruneError{Path: meetingPath, Error: err})
			continue
		}
		for _, sess := range sessions {
			if ctx.Err() != nil {
				return result
			}
			if !sess.IsDir() {
				continue
			}
			if _, ok := keep[sess.Name()]; ok {
				continue
			}
			sessPath := filepath.Join(meetingPath, sess.Name())
			size, newest := dirUsage(sessPath)
			if newest.After(cutoff) {
				continue
			}
			if err := os.RemoveAll(sessPath); err != nil {
				result.Errors = append(result.Errors, PruneError{Path: sessPath, Error: err})
				if logger != nil {
					logging.WarnWithContext(logger, "failed to prune spooled session", "spool_prune_failed",
						logging.String("path", sessPath),
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check spool_dir permissions"),
						logging.String(logging.FieldImpact, "disk space not reclaimed"),
					)
				}
				continue
			}
			result.Removed = append(result.Removed, sessPath)
			result.Bytes += size
			if logger != nil {
				logger.Info("pruned spooled session",
					logging.String("path", sessPath),
					logging.Int64("bytes", size),
					logging.Duration("age", time.Since(newest)),
					logging.String(logging.FieldEventType, "spool_pruned"),
				)
			}
		}
		if remaining, err := os.ReadDir(meetingPath); err == nil && len(remaining) == 0 {
			_ = os.Remove(meetingPath)
		}
	}
	return result
}

// dirUsage returns the total file size below path and the newest modification
// time seen, including the directory itself.
func dirUsage(path string) (int64, time.Time) {
	var size int64
	var newest time.Time
	_ = filepath.WalkDir(path, func(_ string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if !entry.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, newest
}
