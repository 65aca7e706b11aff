package store

import (
	"context"
	"fmt"
	"strings"

	"callscribe/internal/config"
)

// OpenRepository returns the Repository selected by cfg.Store.Backend. The
// sqlite backend reuses db; the redis backend opens its own client.
func OpenRepository(ctx context.Context, cfg *config.Config, db *Store) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store.Backend)) {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite repository requires an open store")
		}
		return sharedStore{db}, nil
	case "redis":
		client, err := NewRedisClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedisRepository(client, cfg.Store.RedisKeyPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

// sharedStore exposes a Store as a Repository whose Close leaves the
// database open for the journal.
type sharedStore struct{ *Store }

func (sharedStore) Close() error { return nil }
