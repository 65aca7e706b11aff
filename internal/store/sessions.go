package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = "id, meeting_id, title, platform, topic_id, state, transcribing, error, segments, started_at, updated_at, ended_at"

// SaveSession inserts or replaces a session record.
func (s *Store) SaveSession(ctx context.Context, session Session) error {
	if session.ID == "" {
		return errors.New("save session: id is required")
	}
	var ended sql.NullString
	if session.EndedAt != nil {
		ended = sql.NullString{String: formatTime(*session.EndedAt), Valid: true}
	}
	_, err := s.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    meeting_id = excluded.meeting_id,
    title = excluded.title,
    platform = excluded.platform,
    topic_id = excluded.topic_id,
    state = excluded.state,
    transcribing = excluded.transcribing,
    error = excluded.error,
    segments = excluded.segments,
    updated_at = excluded.updated_at,
    ended_at = excluded.ended_at`,
		session.ID, session.MeetingID, session.Title, session.Platform, session.TopicID, session.State,
		boolToInt(session.Transcribing), session.Error, session.Segments,
		formatTime(session.StartedAt), formatTime(session.UpdatedAt), ended,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions returns the most recently updated sessions first. A limit of
// zero or less returns every session.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + sessionColumns + " FROM sessions ORDER BY updated_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// FailActiveSessions moves sessions left in a live state by a previous daemon
// to error and returns how many were updated.
func (s *Store) FailActiveSessions(ctx context.Context, liveStates []string, reason string) (int64, error) {
	if len(liveStates) == 0 {
		return 0, nil
	}
	now := formatTime(time.Now())
	query := "UPDATE sessions SET state = 'error', error = ?, updated_at = ?, ended_at = ? WHERE state IN (?" +
		repeatPlaceholders(len(liveStates)-1) + ")"
	args := []any{reason, now, now}
	for _, state := range liveStates {
		args = append(args, state)
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("fail active sessions: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		session      Session
		transcribing int
		started      string
		updated      string
		ended        sql.NullString
	)
	if err := row.Scan(
		&session.ID, &session.MeetingID, &session.Title, &session.Platform, &session.TopicID, &session.State,
		&transcribing, &session.Error, &session.Segments,
		&started, &updated, &ended,
	); err != nil {
		return Session{}, err
	}
	session.Transcribing = transcribing != 0
	session.StartedAt = parseTime(started)
	session.UpdatedAt = parseTime(updated)
	if ended.Valid {
		t := parseTime(ended.String)
		session.EndedAt = &t
	}
	return session, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func repeatPlaceholders(n int) string {
	out := make([]byte, 0, n*3)
	for range n {
		out = append(out, ", ?"...)
	}
	return string(out)
}
