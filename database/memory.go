package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"meridian/backtest"
)

// MemoryDatabase 进程内实现（未启用数据库时使用）
// 最多保留 capacity 条记录，超出时淘汰最早保存的记录
type MemoryDatabase struct {
	mu       sync.RWMutex
	capacity int
	runs     map[string]*memoryRun
	order    []string
	now      func() time.Time
}

type memoryRun struct {
	summary *BacktestRun
	data    []byte
}

// NewMemoryDatabase 创建进程内实现，capacity <= 0 时默认 100
func NewMemoryDatabase(capacity int) *MemoryDatabase {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryDatabase{
		capacity: capacity,
		runs:     make(map[string]*memoryRun),
		now:      time.Now,
	}
}

// SaveRun 保存回测结果（JSON 编码保存，读写互不影响）
func (m *MemoryDatabase) SaveRun(ctx context.Context, result *backtest.BacktestResult, fingerprint string) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("result id is required")
	}
	summary, err := toRunRecord(result, fingerprint)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化回测结果失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	summary.CreatedAt = m.now()
	if _, exists := m.runs[result.ID]; exists {
		m.removeLocked(result.ID)
	}
	m.runs[result.ID] = &memoryRun{summary: summary, data: data}
	m.order = append(m.order, result.ID)
	for len(m.order) > m.capacity {
		m.removeLocked(m.order[0])
	}
	return nil
}

func (m *MemoryDatabase) removeLocked(id string) {
	delete(m.runs, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// GetRun 读取完整回测结果
func (m *MemoryDatabase) GetRun(ctx context.Context, id string) (*backtest.BacktestResult, error) {
	m.mu.RLock()
	run, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	var result backtest.BacktestResult
	if err := json.Unmarshal(run.data, &result); err != nil {
		return nil, fmt.Errorf("解析回测结果失败: %w", err)
	}
	return &result, nil
}

// ListRuns 获取回测汇总记录（按保存时间倒序）
func (m *MemoryDatabase) ListRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, error) {
	if filter == nil {
		filter = &RunFilter{}
	}

	m.mu.RLock()
	runs := make([]*BacktestRun, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		s := *m.runs[m.order[i]].summary
		if filter.Symbol != "" && s.Symbol != filter.Symbol {
			continue
		}
		if filter.Strategy != "" && s.Strategy != filter.Strategy {
			continue
		}
		runs = append(runs, &s)
	}
	m.mu.RUnlock()

	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return []*BacktestRun{}, nil
		}
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(runs) {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// DeleteRun 删除回测记录
func (m *MemoryDatabase) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	m.removeLocked(id)
	return nil
}

// Ping 健康检查
func (m *MemoryDatabase) Ping(ctx context.Context) error {
	return nil
}

// Close 关闭
func (m *MemoryDatabase) Close() error {
	return nil
}
