// Package redis provides a cursor.Store backed by Redis string keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/pushstream-go/cursor"
)

var _ cursor.Store = (*Store)(nil)

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client *redis.Client

	// KeyPrefix is prepended to every key.
	// Default: "pushstream:cursor:"
	KeyPrefix string
}

// Store implements cursor.Store using Redis.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a Redis-backed store.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "pushstream:cursor:"
	}
	return &Store{client: config.Client, keyPrefix: config.KeyPrefix}, nil
}

// Open parses a redis:// URL and returns a store that owns its client.
func Open(url, keyPrefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(Config{Client: redis.NewClient(opts), KeyPrefix: keyPrefix})
}

func (s *Store) Load(ctx context.Context, key string) (string, error) {
	id, err := s.client.Get(ctx, s.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cursor %s: %w", key, err)
	}
	return id, nil
}

func (s *Store) Save(ctx context.Context, key, eventID string, opts ...cursor.Option) error {
	o := cursor.ApplyOptions(opts...)
	var ttl time.Duration
	if o.TTL != nil {
		ttl = *o.TTL
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, eventID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cursor %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cursor %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
