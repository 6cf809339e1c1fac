// Package redisblob provides a Redis-backed implementation of blob.Store,
// used as the production escalation mailbox. Paths map directly to keys under
// a configurable prefix.
package redisblob

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/warden/internal/blob"
)

// Config configures Redis access for the mailbox namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store persists mailbox objects as Redis string values.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and returns a ready Store.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "warden:mailbox"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis mailbox: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// Close releases the client connection pool.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(path string) string { return s.prefix + ":" + path }

// Put stores data at path.
func (s *Store) Put(ctx context.Context, path string, data []byte) error {
	if err := s.client.Set(ctx, s.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("redisblob put %s: %w", path, err)
	}
	return nil
}

// Get returns the object at path, or blob.ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(path)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("redisblob get %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object at path. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.key(path)).Err(); err != nil {
		return fmt.Errorf("redisblob delete %s: %w", path, err)
	}
	return nil
}

// Exists reports whether an object is present at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(path)).Result()
	if err != nil {
		return false, fmt.Errorf("redisblob exists %s: %w", path, err)
	}
	return n > 0, nil
}
