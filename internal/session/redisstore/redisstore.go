// Package redisstore provides a Redis-backed implementation of
// session.Store. Sessions live in a sorted set per (app, user), scored by
// creation time, so listing in creation order is a single range read.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/warden/internal/session"
)

// Config configures Redis access for the session namespace.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store persists sessions as JSON members of per-pair sorted sets.
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
		cfg.KeyPrefix = "warden:sessions"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis sessions: %w", err)
	}

	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewWithClient wraps an existing client, sharing its connection pool.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "warden:sessions"
	}
	return &Store{client: client, prefix: keyPrefix}
}

// Close releases the client connection pool.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(app, userID string) string { return s.prefix + ":" + app + ":" + userID }

// List returns the pair's sessions oldest first.
func (s *Store) List(ctx context.Context, app, userID string) ([]session.Session, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key(app, userID), &redis.ZRangeBy{
		Min: "-inf",
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore list sessions for %s: %w", userID, err)
	}

	out := make([]session.Session, 0, len(members))
	for _, m := range members {
		var sess session.Session
		if err := json.Unmarshal([]byte(m), &sess); err != nil {
			return nil, fmt.Errorf("redisstore decode session for %s: %w", userID, err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// Create adds a session scored by its creation time.
func (s *Store) Create(ctx context.Context, sess session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redisstore encode session: %w", err)
	}
	err = s.client.ZAdd(ctx, s.key(sess.App, sess.UserID), redis.Z{
		Score:  float64(sess.CreatedAt.UnixNano()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("redisstore create session for %s: %w", sess.UserID, err)
	}
	return nil
}
