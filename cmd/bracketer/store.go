package main

import (
	"context"
	"fmt"

	"github.com/randalmurphal/bracketer/pkg/bracketer/cache"
	"github.com/randalmurphal/bracketer/pkg/bracketer/config"
)

// openStore opens the correlation store named by env.Backend.
func openStore(ctx context.Context, env config.Env) (cache.Store, error) {
	switch env.Backend {
	case config.BackendMemory:
		return cache.NewMemoryStore(0), nil

	case config.BackendSQLite:
		store, err := cache.NewSQLiteStore(env.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil

	case config.BackendRedis:
		store := cache.NewRedisStore(cache.RedisOptions{
			Addr:     env.RedisAddr,
			Password: env.RedisPassword,
			DB:       env.RedisDB,
			Prefix:   env.RedisPrefix,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect redis store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", env.Backend)
	}
}
