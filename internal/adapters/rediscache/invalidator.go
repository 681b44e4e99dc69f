// Package rediscache drops the host's Redis-backed caches when the plugin set
// changes.
package rediscache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "pteroca:cache:"

const scanBatch = 500

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Invalidator deletes every key under the configured prefix. Routes,
// container definitions and translations are all cached under it, so any
// plugin change invalidates the lot.
type Invalidator struct {
	client redis.UniversalClient
	prefix string
	logger ports.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger ports.Logger) (*Invalidator, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string, logger ports.Logger) *Invalidator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Invalidator{client: client, prefix: prefix, logger: logger}
}

// Invalidate removes every cached key. p names the plugin that triggered it.
func (i *Invalidator) Invalidate(ctx context.Context, p *plugin.Plugin) error {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := i.client.Scan(ctx, cursor, i.prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := i.client.Del(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("deleting cache keys: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if i.logger != nil {
		name := ""
		if p != nil {
			name = p.Name
		}
		i.logger.Debug(ctx, "redis cache invalidated",
			ports.F("plugin", name),
			ports.F("prefix", i.prefix),
			ports.F("keys", removed),
		)
	}
	return nil
}

// Close closes the underlying client.
func (i *Invalidator) Close() error {
	return i.client.Close()
}

var _ plugin.CacheInvalidator = (*Invalidator)(nil)
