package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LookupTopic returns the topic recorded for meetingID.
func (s *Store) LookupTopic(ctx context.Context, meetingID string) (string, bool, error) {
	ctx = ensureContext(ctx)
	var topicID string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT topic_id FROM topics WHERE meeting_id = ?", meetingID).Scan(&topicID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup topic for %s: %w", meetingID, err)
	}
	return topicID, true, nil
}

// SaveTopic records the topic for meetingID. An existing mapping is kept.
func (s *Store) SaveTopic(ctx context.Context, meetingID, topicID string) error {
	if strings.TrimSpace(meetingID) == "" || strings.TrimSpace(topicID) == "" {
		return errors.New("save topic: meeting id and topic id are required")
	}
	_, err := s.exec(ctx,
		"INSERT INTO topics (meeting_id, topic_id, created_at) VALUES (?, ?, ?) ON CONFLICT(meeting_id) DO NOTHING",
		meetingID, topicID, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save topic for %s: %w", meetingID, err)
	}
	return nil
}

// ListTopics returns all known mappings, newest first.
func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT meeting_id, topic_id, created_at FROM topics ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		var (
			t       Topic
			created string
		)
		if err := rows.Scan(&t.MeetingID, &t.TopicID, &created); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		t.CreatedAt = parseTime(created)
		topics = append(topics, t)
	}
	return topics, rows.Err()
}
