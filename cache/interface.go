package cache

import (
	"context"
	"sync"
	"time"

	"meridian/backtest"
)

// ResultCache 回测结果缓存接口
// key 为 backtest.Fingerprint 计算的运行指纹，相同输入的回测结果一致
type ResultCache interface {
	// Get 读取缓存结果，未命中返回 (nil, false, nil)
	Get(ctx context.Context, key string) (*backtest.BacktestResult, bool, error)

	// Set 写入缓存结果
	Set(ctx context.Context, key string, result *backtest.BacktestResult) error

	// Delete 删除缓存结果
	Delete(ctx context.Context, key string) error

	// Close 关闭连接
	Close() error
}

// NopCache 空实现（未启用缓存）
type NopCache struct{}

func NewNopCache() *NopCache {
	return &NopCache{}
}

func (n *NopCache) Get(ctx context.Context, key string) (*backtest.BacktestResult, bool, error) {
	return nil, false, nil
}

func (n *NopCache) Set(ctx context.Context, key string, result *backtest.BacktestResult) error {
	return nil
}

func (n *NopCache) Delete(ctx context.Context, key string) error {
	return nil
}

func (n *NopCache) Close() error {
	return nil
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache 进程内缓存（单实例模式）
// 与 RedisCache 一样保存 JSON 编码，取出的结果与缓存内容互不影响
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache 创建进程内缓存，ttl <= 0 表示永不过期
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string) (*backtest.BacktestResult, bool, error) {
	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.ttl > 0 && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	result, err := decodeResult(entry.data)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, result *backtest.BacktestResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{data: data, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len 当前缓存条目数（含未清理的过期条目）
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}
