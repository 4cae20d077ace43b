// Package app wires configuration into the clients used by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopify-export/pkg/cache"
	"github.com/Sternrassler/shopify-export/pkg/catalog"
	"github.com/Sternrassler/shopify-export/pkg/client"
	"github.com/Sternrassler/shopify-export/pkg/config"
	"github.com/Sternrassler/shopify-export/pkg/pagination"
	"github.com/Sternrassler/shopify-export/pkg/ratelimit"
)

const redisPingTimeout = 5 * time.Second

// App holds the store-facing components of one process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Client  *client.Client
	Catalog *catalog.Catalog

	// Redis and Cache are nil when no Redis URL is configured.
	Redis *redis.Client
	Cache *cache.Manager
}

// New checks the store settings, connects Redis when configured and builds
// the client, fetcher and catalog. No request reaches the store before the
// settings check passes.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.RequireStoreAccess(); err != nil {
		return nil, err
	}

	pageCfg, err := cfg.PaginationConfig()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}

	var store ratelimit.StateStore = ratelimit.NewMemoryStore()
	if cfg.Cache.RedisURL != "" {
		rdb, err := NewRedisClient(cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("redis", redisAddr(cfg.Cache.RedisURL)).Msg("Connected to Redis")

		a.Redis = rdb
		a.Cache = cache.NewManager(rdb)
		store = ratelimit.NewRedisStore(rdb)
	}

	tracker := ratelimit.NewTracker(store, cfg.Shop.StoreDomain, logger)

	a.Client, err = client.New(cfg.ClientConfig(), tracker, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create shop client: %w", err)
	}

	fetcher := pagination.NewFetcher(a.Client, pageCfg, logger)
	a.Catalog = catalog.New(a.Client, fetcher, logger)
	if a.Cache != nil {
		a.Catalog.SetCache(a.Cache, cfg.Cache.TTL)
	}
	return a, nil
}

// Close releases the client and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.Client != nil {
		errs = append(errs, a.Client.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	if strings.Contains(rawURL, "://") {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: rawURL}), nil
}

// redisAddr drops credentials before logging.
func redisAddr(rawURL string) string {
	if opts, err := redis.ParseURL(rawURL); err == nil {
		return opts.Addr
	}
	return rawURL
}
