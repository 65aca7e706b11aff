package store

import (
	"context"
	"fmt"
	"time"

	"callscribe/internal/segment"
)

// SaveSegment journals a pending segment. Re-saving an existing segment
// updates its attempt count and keeps its queue position.
func (s *Store) SaveSegment(ctx context.Context, seg segment.Segment) error {
	created := seg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO segments
    (session_id, sequence, format, start_time_ms, end_time_ms, attempts, audio, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, sequence) DO UPDATE SET attempts = excluded.attempts`,
		seg.SessionID, seg.Sequence, seg.Format, seg.StartTimeMs, seg.EndTimeMs,
		seg.Attempts, seg.Audio, formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("journal segment %s/%d: %w", seg.SessionID, seg.Sequence, err)
	}
	return nil
}

// RemoveSegment drops a resolved segment from the journal.
func (s *Store) RemoveSegment(ctx context.Context, sessionID string, sequence int64) error {
	if _, err := s.exec(ctx, "DELETE FROM segments WHERE session_id = ? AND sequence = ?", sessionID, sequence); err != nil {
		return fmt.Errorf("remove journaled segment %s/%d: %w", sessionID, sequence, err)
	}
	return nil
}

// ClearSegments empties the journal.
func (s *Store) ClearSegments(ctx context.Context) error {
	if _, err := s.exec(ctx, "DELETE FROM segments"); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}
	return nil
}

// LoadSegments returns journaled segments in the order they were first queued.
func (s *Store) LoadSegments(ctx context.Context) ([]segment.Segment, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, sequence, format, start_time_ms, end_time_ms, attempts, audio, created_at
FROM segments ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	defer rows.Close()

	var segs []segment.Segment
	for rows.Next() {
		var (
			seg     segment.Segment
			created string
		)
		if err := rows.Scan(&seg.SessionID, &seg.Sequence, &seg.Format, &seg.StartTimeMs, &seg.EndTimeMs,
			&seg.Attempts, &seg.Audio, &created); err != nil {
			return nil, fmt.Errorf("scan journaled segment: %w", err)
		}
		seg.CreatedAt = parseTime(created)
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// JournalSize returns the number of journaled segments.
func (s *Store) JournalSize(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM segments").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}
