// Package mem is an in-memory domain.Settings implementation, used in
// tests and when no Redis endpoint is configured.
package mem

import (
	"context"
	"strconv"
	"sync"

	"github.com/mbehr1/cryptotrader/internal/domain"
)

// Store keeps settings in a plain map. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	vals map[string]string
}

// New creates an empty store.
func New() *Store {
	return &Store{vals: make(map[string]string)}
}

func (s *Store) GetString(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *Store) SetString(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.vals[key] = value
	s.mu.Unlock()
	return nil
}

func (s *Store) GetInt64(ctx context.Context, key string) (int64, error) {
	v, err := s.GetString(ctx, key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *Store) SetInt64(ctx context.Context, key string, value int64) error {
	return s.SetString(ctx, key, strconv.FormatInt(value, 10))
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.vals, key)
	s.mu.Unlock()
	return nil
}

// Compile-time interface check.
var _ domain.Settings = (*Store)(nil)
