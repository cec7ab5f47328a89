// Package persist mirrors designated slices to durable storage and restores
// them at startup.
package persist

import (
	"context"
	"fmt"

	"github.com/joss/kotoshop/internal/config"
)

// Backend is a key/value store for serialized slice state.
type Backend interface {
	// Load returns the value under key or a NotFoundError.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the value under key.
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases any resources held by the backend.
	Close() error
}

// Open builds the backend selected by env, sealed when a state key is set.
func Open(ctx context.Context, env *config.ShopEnv) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch env.StateBackend {
	case "sqlite", "":
		dsn := env.DSN()
		if err := config.EnsureDir(config.GetPaths().Data); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		b, err = NewSQL(ctx, "sqlite3", dsn)
	case "mysql":
		b, err = NewSQL(ctx, "mysql", env.DSN())
	case "postgres":
		b, err = NewSQL(ctx, "postgres", env.DSN())
	case "redis":
		b, err = NewRedis(ctx, RedisOptions{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
			DB:       env.RedisDB,
		})
	case "memory":
		b = NewMemory()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, env.StateBackend)
	}
	if err != nil {
		return nil, err
	}

	if env.StateKey != "" {
		sealed, err := NewSealed(ctx, b, env.StateKey)
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		return sealed, nil
	}
	return b, nil
}
