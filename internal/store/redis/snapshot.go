package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// SnapshotStore keeps the latest engine snapshot under a single key.
// SQLite holds the durable history; this key is the fast restore path.
type SnapshotStore struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotStore returns a store writing to key. ttl 0 means no expiry.
func NewSnapshotStore(client *goredis.Client, key string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, key: key, ttl: ttl}
}

// SaveSnapshotJSON overwrites the snapshot key.
func (s *SnapshotStore) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", s.key, err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the stored snapshot, or nil, nil if the key
// does not exist.
func (s *SnapshotStore) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot %s: %w", s.key, err)
	}
	return data, nil
}
