package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meridian/backtest"
)

const namespace = "meridian"

// PrometheusMetrics Prometheus 指标收集器
// 每个实例持有独立的 Registry，测试和多个服务实例之间互不干扰
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// 回测指标
	runTotal     *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	barsTotal    *prometheus.CounterVec
	fillTotal    *prometheus.CounterVec
	rejectTotal  *prometheus.CounterVec
	tradePnL     *prometheus.CounterVec
	equity       *prometheus.GaugeVec
	totalReturn  *prometheus.GaugeVec
	sharpeRatio  *prometheus.GaugeVec
	maxDrawdown  *prometheus.GaugeVec
	sweepTotal   *prometheus.CounterVec
	cacheTotal   *prometheus.CounterVec
	requestTotal *prometheus.CounterVec

	// 系统指标
	goroutineCount   prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	gcPauseDuration  prometheus.Histogram

	summary *Summary
}

// NewPrometheusMetrics 创建 Prometheus 指标收集器
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		summary:  newSummary(),

		runTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_runs_total",
				Help:      "Total number of backtest runs",
			},
			[]string{"strategy", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backtest_duration_seconds",
				Help:      "Backtest replay duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
			},
			[]string{"strategy"},
		),
		barsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_bars_total",
				Help:      "Total number of bars replayed",
			},
			[]string{"strategy"},
		),
		fillTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_fills_total",
				Help:      "Total number of fills applied to the ledger",
			},
			[]string{"strategy", "symbol", "action"},
		),
		rejectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_rejected_signals_total",
				Help:      "Total number of signals rejected by the ledger",
			},
			[]string{"strategy", "symbol", "reason"},
		),
		tradePnL: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backtest_closed_trades_total",
				Help:      "Total number of closed trades by outcome",
			},
			[]string{"strategy", "symbol", "outcome"},
		),
		equity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backtest_equity",
				Help:      "Latest sampled equity of the most recent run",
			},
			[]string{"strategy", "symbol"},
		),
		totalReturn: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backtest_total_return",
				Help:      "Total return of the most recent completed run",
			},
			[]string{"strategy", "symbol"},
		),
		sharpeRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backtest_sharpe_ratio",
				Help:      "Sharpe ratio of the most recent completed run",
			},
			[]string{"strategy", "symbol"},
		),
		maxDrawdown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "backtest_max_drawdown",
				Help:      "Max drawdown of the most recent completed run",
			},
			[]string{"strategy", "symbol"},
		),
		sweepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_combinations_total",
				Help:      "Total number of parameter sweep combinations",
			},
			[]string{"strategy", "status"},
		),
		cacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "result_cache_lookups_total",
				Help:      "Result cache lookups by outcome",
			},
			[]string{"result"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP API requests",
			},
			[]string{"method", "path", "status"},
		),

		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		}),
		memoryAllocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects",
		}),
		gcPauseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_pause_seconds",
			Help:      "Most recent GC pause duration in seconds",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),
	}

	pm.registry.MustRegister(
		pm.runTotal, pm.runDuration, pm.barsTotal, pm.fillTotal, pm.rejectTotal,
		pm.tradePnL, pm.equity, pm.totalReturn, pm.sharpeRatio, pm.maxDrawdown,
		pm.sweepTotal, pm.cacheTotal, pm.requestTotal,
		pm.goroutineCount, pm.memoryAllocBytes, pm.gcPauseDuration,
	)
	return pm
}

// Registry 指标注册表
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler /metrics 处理器
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Summary 进程内汇总
func (pm *PrometheusMetrics) Summary() SummarySnapshot {
	return pm.summary.snapshot()
}

// 回测相关指标记录

// NewRunObserver 为一次回测创建观察者，完成时记录耗时
func (pm *PrometheusMetrics) NewRunObserver() backtest.Observer {
	return &runObserver{pm: pm, start: time.Now()}
}

// RecordRunFailure 记录回测失败（数据错误、策略构造失败等）
func (pm *PrometheusMetrics) RecordRunFailure(strategy string) {
	pm.runTotal.WithLabelValues(strategy, "failed").Inc()
	pm.summary.recordFailure()
}

// RecordSweep 记录参数扫描结果
func (pm *PrometheusMetrics) RecordSweep(strategy string, results []backtest.SweepResult) {
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = "failed"
		}
		pm.sweepTotal.WithLabelValues(strategy, status).Inc()
	}
}

// RecordCacheLookup 记录结果缓存命中
func (pm *PrometheusMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	pm.cacheTotal.WithLabelValues(result).Inc()
}

// RecordRequest 记录 HTTP 请求
func (pm *PrometheusMetrics) RecordRequest(method, path string, status int) {
	pm.requestTotal.WithLabelValues(method, path, http.StatusText(status)).Inc()
}

// 系统相关指标记录

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	pm.goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	pm.memoryAllocBytes.Set(float64(bytes))
}

// RecordGCPause 记录 GC 停顿时间
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	pm.gcPauseDuration.Observe(duration.Seconds())
}

type runObserver struct {
	pm    *PrometheusMetrics
	start time.Time
}

func (o *runObserver) OnFill(run backtest.RunInfo, fill backtest.Fill, trade *backtest.Trade) {
	o.pm.fillTotal.WithLabelValues(run.Strategy, fill.Symbol, string(fill.Action)).Inc()
	if trade == nil {
		return
	}
	outcome := "flat"
	switch {
	case trade.PnL > 0:
		outcome = "win"
	case trade.PnL < 0:
		outcome = "loss"
	}
	o.pm.tradePnL.WithLabelValues(run.Strategy, trade.Symbol, outcome).Inc()
}

func (o *runObserver) OnReject(run backtest.RunInfo, rejected backtest.RejectedSignal) {
	o.pm.rejectTotal.WithLabelValues(run.Strategy, rejected.Signal.Symbol, RejectReason(rejected.Err)).Inc()
}

func (o *runObserver) OnEquity(run backtest.RunInfo, point backtest.EquityPoint) {
	o.pm.equity.WithLabelValues(run.Strategy, run.Symbol).Set(point.Equity)
}

func (o *runObserver) OnComplete(run backtest.RunInfo, result *backtest.BacktestResult) {
	elapsed := time.Since(o.start)
	o.pm.runTotal.WithLabelValues(run.Strategy, "ok").Inc()
	o.pm.runDuration.WithLabelValues(run.Strategy).Observe(elapsed.Seconds())
	o.pm.barsTotal.WithLabelValues(run.Strategy).Add(float64(run.Bars))
	o.pm.totalReturn.WithLabelValues(run.Strategy, run.Symbol).Set(result.Metrics.TotalReturn)
	o.pm.sharpeRatio.WithLabelValues(run.Strategy, run.Symbol).Set(result.Metrics.SharpeRatio)
	o.pm.maxDrawdown.WithLabelValues(run.Strategy, run.Symbol).Set(result.Metrics.MaxDrawdown)
	o.pm.summary.recordRun(run, elapsed)
}

// RejectReason 拒绝原因分类（用作低基数的指标标签）
func RejectReason(err error) string {
	switch {
	case errors.Is(err, backtest.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, backtest.ErrInvalidSell):
		return "invalid_sell"
	case errors.Is(err, backtest.ErrUnknownSymbol):
		return "unknown_symbol"
	default:
		return "other"
	}
}
