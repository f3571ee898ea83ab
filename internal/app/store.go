package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tanklink/tanklink/internal/dal"
	"github.com/tanklink/tanklink/internal/platform/cache"
	"github.com/tanklink/tanklink/internal/platform/db"
	"github.com/tanklink/tanklink/internal/store"
	"github.com/tanklink/tanklink/internal/store/memstore"
	"github.com/tanklink/tanklink/internal/store/pgstore"
	"github.com/tanklink/tanklink/internal/store/redisblob"
)

// OpenStore builds the configured storage backend. The returned close
// function releases backend resources and is safe to call once.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case BackendPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open postgres store: %w", err)
		}
		st := pgstore.New(pool, logger)
		if err := st.EnsureSchema(ctx, dal.Tables()); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("app: ensure schema: %w", err)
		}
		return st, pool.Close, nil
	case BackendRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open redis store: %w", err)
		}
		st := redisblob.New(client, "tanklink")
		return st, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}, nil
	case BackendMemory:
		return memstore.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}
