// Package redis stores per-browser session state in Redis so several portal
// instances can share it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/softwareproject/portal/internal/common"
	"github.com/softwareproject/portal/internal/config"
	"github.com/softwareproject/portal/internal/interfaces"
)

const (
	connectAttempts = 3
	connectDelay    = 2 * time.Second
)

// KVStorage implements interfaces.KeyValueStorage on a Redis database.
// All keys are stored under prefix.
type KVStorage struct {
	client *goredis.Client
	prefix string
	logger *common.Logger
}

// NewKVStorage wraps an existing client.
func NewKVStorage(client *goredis.Client, prefix string, logger *common.Logger) *KVStorage {
	return &KVStorage{client: client, prefix: prefix, logger: logger}
}

// Get retrieves a value by key. Missing keys return interfaces.ErrNotFound.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores a key-value pair without expiry.
func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Manager implements interfaces.StorageManager for Redis.
type Manager struct {
	client *goredis.Client
	kv     *KVStorage
}

// NewManager connects to Redis, retrying the initial ping.
func NewManager(ctx context.Context, logger *common.Logger, cfg *config.RedisConfig) (*Manager, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			break
		}
		logger.Warn().
			Int("attempt", attempt).
			Str("addr", cfg.Addr).
			Str("error", err.Error()).
			Msg("redis ping failed")
		if attempt < connectAttempts {
			time.Sleep(connectDelay)
		}
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s after %d attempts: %w", cfg.Addr, connectAttempts, err)
	}

	logger.Debug().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis storage manager initialized")

	return &Manager{
		client: client,
		kv:     NewKVStorage(client, cfg.Prefix, logger),
	}, nil
}

// KeyValueStorage returns the KeyValue storage interface.
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Backend names the storage backend.
func (m *Manager) Backend() string {
	return "redis"
}

// Close closes the client connection pool.
func (m *Manager) Close() error {
	return m.client.Close()
}
