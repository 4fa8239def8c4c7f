package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meridian/config"
	"meridian/logger"
)

// NewResultCache 根据配置创建结果缓存
// 如果未启用缓存，返回 NopCache（零开销）
func NewResultCache(cfg config.CacheConfig) (ResultCache, error) {
	if !cfg.Enabled {
		return NewNopCache(), nil
	}

	switch cfg.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		rc := NewRedisCache(client, cfg.Prefix, cfg.TTL())

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("连接 Redis 失败 (%s): %w", cfg.Redis.Addr, err)
		}
		logger.Info("✅ 回测结果缓存已启用: redis %s", cfg.Redis.Addr)
		return rc, nil

	case "memory":
		logger.Info("✅ 回测结果缓存已启用: memory")
		return NewMemoryCache(cfg.TTL()), nil

	case "none", "":
		return NewNopCache(), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
