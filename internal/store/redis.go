package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pwmpw/uniswap-relay/internal/domain/model"
)

// RedisStore keeps per-version cursors in a single Redis hash, one field per
// source version. HSET of one field is atomic, so a crash can never persist
// a half-written cursor.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects to url (redis:// form) and verifies the connection
// with a ping. keyPrefix namespaces the hash key, e.g. "uniswap:relay:".
func NewRedisStore(ctx context.Context, url, keyPrefix string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		key:    keyPrefix + "cursors",
		logger: logger.With("component", "cursor_store"),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the connection.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		key:    keyPrefix + "cursors",
		logger: logger.With("component", "cursor_store"),
	}
}

func (s *RedisStore) Load(ctx context.Context, version model.Version) (model.Cursor, bool, error) {
	val, err := s.client.HGet(ctx, s.key, version.String()).Result()
	if err == redis.Nil {
		return model.Cursor{}, false, nil
	}
	if err != nil {
		return model.Cursor{}, false, fmt.Errorf("load cursor %s: %w", version, err)
	}

	cursor, err := model.ParseCursor(val)
	if err != nil {
		// A corrupt cursor restarts the window rather than wedging the poller.
		s.logger.Warn("discarding corrupt persisted cursor",
			"version", version.String(),
			"value", val,
			"error", err)
		return model.Cursor{}, false, nil
	}
	return cursor, true, nil
}

func (s *RedisStore) Save(ctx context.Context, version model.Version, cursor model.Cursor) error {
	if err := s.client.HSet(ctx, s.key, version.String(), cursor.String()).Err(); err != nil {
		return fmt.Errorf("save cursor %s: %w", version, err)
	}
	return nil
}

// Close releases the underlying connection when the store owns it.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
