package server

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wudi/assetcache/internal/cache"
	"github.com/wudi/assetcache/internal/config"
)

// NewStorage opens the generation store selected by cfg.Type.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (cache.Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return cache.NewMemoryStorage(), nil
	case "redis":
		opts := &redis.Options{
			Addr:        cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		return cache.NewRedisStorage(client, cfg.Redis.Prefix), nil
	case "blob":
		return cache.OpenBlobStorage(ctx, cfg.Blob.URL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
