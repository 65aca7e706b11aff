package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps topic mappings and sessions in Redis. Topic writes use
// SETNX so the first host to create a topic for a meeting wins.
type RedisRepository struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient builds a client from a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis url is empty")
	}
	var client *redis.Client
	if strings.HasPrefix(url, "redis://") || strings.HasPrefix(url, "rediss://") {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisRepository wraps an existing client. Keys are namespaced by prefix.
func NewRedisRepository(rdb *redis.Client, prefix string) *RedisRepository {
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisRepository) topicKey(meetingID string) string { return r.prefix + "topic:" + meetingID }
func (r *RedisRepository) sessionKey(id string) string      { return r.prefix + "session:" + id }
func (r *RedisRepository) sessionIndex() string             { return r.prefix + "sessions" }

// LookupTopic returns the topic recorded for meetingID.
func (r *RedisRepository) LookupTopic(ctx context.Context, meetingID string) (string, bool, error) {
	topicID, err := r.rdb.Get(ctx, r.topicKey(meetingID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup topic for %s: %w", meetingID, err)
	}
	return topicID, true, nil
}

// SaveTopic records the topic for meetingID unless one already exists.
func (r *RedisRepository) SaveTopic(ctx context.Context, meetingID, topicID string) error {
	if strings.TrimSpace(meetingID) == "" || strings.TrimSpace(topicID) == "" {
		return errors.New("save topic: meeting id and topic id are required")
	}
	if err := r.rdb.SetNX(ctx, r.topicKey(meetingID), topicID, 0).Err(); err != nil {
		return fmt.Errorf("save topic for %s: %w", meetingID, err)
	}
	return nil
}

// SaveSession stores the session as JSON and indexes it by update time.
func (r *RedisRepository) SaveSession(ctx context.Context, session Session) error {
	if session.ID == "" {
		return errors.New("save session: id is required")
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(session.ID), payload, 0)
		pipe.ZAdd(ctx, r.sessionIndex(), redis.Z{Score: float64(session.UpdatedAt.UnixMilli()), Member: session.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession fetches one session by id.
func (r *RedisRepository) GetSession(ctx context.Context, id string) (Session, error) {
	raw, err := r.rdb.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, nil
}

// ListSessions returns the most recently updated sessions first.
func (r *RedisRepository) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.rdb.ZRevRange(ctx, r.sessionIndex(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]Session, 0, len(ids))
	for _, id := range ids {
		session, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = r.rdb.ZRem(ctx, r.sessionIndex(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// FailActiveSessions moves sessions left in a live state to error.
func (r *RedisRepository) FailActiveSessions(ctx context.Context, liveStates []string, reason string) (int64, error) {
	sessions, err := r.ListSessions(ctx, 0)
	if err != nil {
		return 0, err
	}
	var updated int64
	now := time.Now().UTC()
	for _, session := range sessions {
		if !slices.Contains(liveStates, session.State) {
			continue
		}
		session.State = "error"
		session.Error = reason
		session.UpdatedAt = now
		session.EndedAt = &now
		if err := r.SaveSession(ctx, session); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Close closes the Redis client.
func (r *RedisRepository) Close() error {
	if r == nil || r.rdb == nil {
		return nil
	}
	return r.rdb.Close()
}
