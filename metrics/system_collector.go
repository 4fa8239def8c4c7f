package metrics

import (
	"context"
	"runtime"
	"time"
)

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	lastGC   uint32
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(pm *PrometheusMetrics, interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMetricsCollector{
		pm:       pm,
		interval: interval,
	}
}

// Start 启动采集，ctx 取消时退出
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	go smc.collectLoop(ctx)
}

// collectLoop 采集循环
func (smc *SystemMetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	// 立即采集一次
	smc.collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

// collect 采集系统指标
func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Goroutine 数量
	smc.pm.SetGoroutineCount(runtime.NumGoroutine())

	// 内存指标
	smc.pm.SetMemoryAlloc(m.Alloc)

	// GC 停顿时间（只记录上次采集之后的新 GC）
	if m.NumGC > 0 && m.NumGC != smc.lastGC {
		// PauseNs 是一个循环缓冲区，最新的 GC 停顿时间在 (NumGC+255)%256 位置
		idx := (m.NumGC + 255) % 256
		if pauseNs := m.PauseNs[idx]; pauseNs > 0 {
			smc.pm.RecordGCPause(time.Duration(pauseNs))
		}
		smc.lastGC = m.NumGC
	}
}
