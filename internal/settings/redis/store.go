// Package redis implements the domain.Settings key-value persistence
// interface using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Config holds connection parameters for the Redis-backed store.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	// Prefix namespaces every key, e.g. "cryptotrader:".
	Prefix string
}

// Store persists settings as plain Redis strings.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Store, pings the server to verify connectivity, and
// returns the wrapper.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Store{rdb: rdb, prefix: cfg.Prefix}, nil
}

// GetString returns the value stored at key, or domain.ErrNotFound.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// SetString stores value at key with no expiry.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// GetInt64 returns the integer stored at key, or domain.ErrNotFound.
func (s *Store) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get int %s: %w", key, err)
	}
	return v, nil
}

// SetInt64 stores an integer at key with no expiry.
func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	if err := s.rdb.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set int %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Compile-time interface check.
var _ domain.Settings = (*Store)(nil)
