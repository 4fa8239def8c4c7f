package metrics

import (
	"sync"
	"time"

	"meridian/backtest"
)

// SummarySnapshot 进程内回测汇总（/healthz 展示）
type SummarySnapshot struct {
	Runs            int64         `json:"runs"`
	Failures        int64         `json:"failures"`
	BarsReplayed    int64         `json:"bars_replayed"`
	LastRunID       string        `json:"last_run_id,omitempty"`
	LastStrategy    string        `json:"last_strategy,omitempty"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	LastUpdate      time.Time     `json:"last_update"`
}

// Summary 汇总收集器
type Summary struct {
	mu   sync.RWMutex
	data SummarySnapshot
}

func newSummary() *Summary {
	return &Summary{data: SummarySnapshot{LastUpdate: time.Now()}}
}

func (s *Summary) recordRun(run backtest.RunInfo, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Runs++
	s.data.BarsReplayed += int64(run.Bars)
	s.data.LastRunID = run.ID
	s.data.LastStrategy = run.Strategy
	s.data.LastRunDuration = elapsed
	s.data.LastUpdate = time.Now()
}

func (s *Summary) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Failures++
	s.data.LastUpdate = time.Now()
}

func (s *Summary) snapshot() SummarySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data
}
