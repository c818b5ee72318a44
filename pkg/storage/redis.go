package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces every key written by Redis storage.
const DefaultRedisPrefix = "tasksync:"

// Redis stores blobs as plain string keys without expiry.
type Redis struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string, logger zerolog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) key(namespace string) string {
	return r.prefix + namespace
}

// Load implements Storage.
func (r *Redis) Load(ctx context.Context, namespace string) ([]byte, error) {
	blob, err := r.client.Get(ctx, r.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		observe("redis", "load", ErrNotFound)
		return nil, ErrNotFound
	}
	observe("redis", "load", err)
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", namespace, err)
	}
	return blob, nil
}

// Save implements Storage.
func (r *Redis) Save(ctx context.Context, namespace string, blob []byte) error {
	err := r.client.Set(ctx, r.key(namespace), blob, 0).Err()
	observe("redis", "save", err)
	if err != nil {
		r.logger.Error().Err(err).Str("namespace", namespace).Msg("Redis save failed")
		return fmt.Errorf("redis set %q: %w", namespace, err)
	}
	storageBytes.WithLabelValues("redis", namespace).Set(float64(len(blob)))
	r.logger.Debug().Str("key", r.key(namespace)).Int("bytes", len(blob)).Msg("Blob saved")
	return nil
}

// Remove implements Storage.
func (r *Redis) Remove(ctx context.Context, namespace string) error {
	err := r.client.Del(ctx, r.key(namespace)).Err()
	observe("redis", "remove", err)
	if err != nil {
		return fmt.Errorf("redis del %q: %w", namespace, err)
	}
	return nil
}
