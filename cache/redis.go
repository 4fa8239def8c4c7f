package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"meridian/backtest"
)

// RedisCache Redis 结果缓存实现
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 创建 Redis 结果缓存
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get 读取缓存结果
func (r *RedisCache) Get(ctx context.Context, key string) (*backtest.BacktestResult, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	result, err := decodeResult(data)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Set 写入缓存结果，ttl <= 0 时不过期
func (r *RedisCache) Set(ctx context.Context, key string, result *backtest.BacktestResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete 删除缓存结果
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close 关闭连接
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping 检查连接
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
