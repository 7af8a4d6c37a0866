package domain

import "context"

// Settings is the injected key-value persistence interface used by the
// components that need durable state (the pending-order reconciler and
// the connection layer). Implementations must return ErrNotFound for
// missing keys. Contracts: load at construction, save on mutation.
type Settings interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
	Delete(ctx context.Context, key string) error
}
