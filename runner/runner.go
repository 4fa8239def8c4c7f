package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meridian/backtest"
	"meridian/cache"
	"meridian/database"
	"meridian/logger"
	"meridian/metrics"
	"meridian/strategy"
)

// ErrNoBars 请求中没有K线数据
var ErrNoBars = errors.New("no bars provided")

// Runner 回测执行服务
// 组合策略注册表、结果缓存、持久化、指标和报告，CLI 与 Web 共用
type Runner struct {
	registry *strategy.Registry
	cache    cache.ResultCache
	db       database.Database
	metrics  *metrics.PrometheusMetrics
	report   backtest.ReportOptions
}

// Options Runner 依赖，未设置的依赖使用空实现
type Options struct {
	Registry *strategy.Registry
	Cache    cache.ResultCache
	Database database.Database
	Metrics  *metrics.PrometheusMetrics
	Report   backtest.ReportOptions
}

// New 创建回测执行服务
func New(opts Options) *Runner {
	r := &Runner{
		registry: opts.Registry,
		cache:    opts.Cache,
		db:       opts.Database,
		metrics:  opts.Metrics,
		report:   opts.Report,
	}
	if r.registry == nil {
		r.registry = strategy.NewDefaultRegistry()
	}
	if r.cache == nil {
		r.cache = cache.NewNopCache()
	}
	if r.db == nil {
		r.db = database.NewMemoryDatabase(0)
	}
	if r.metrics == nil {
		r.metrics = metrics.NewPrometheusMetrics()
	}
	return r
}

// Registry 策略注册表
func (r *Runner) Registry() *strategy.Registry {
	return r.registry
}

// Database 结果存储
func (r *Runner) Database() database.Database {
	return r.db
}

// Metrics 指标收集器
func (r *Runner) Metrics() *metrics.PrometheusMetrics {
	return r.metrics
}

// Request 一次回测请求
type Request struct {
	Strategy string
	Params   map[string]float64
	Options  backtest.RunOptions
	Bars     []backtest.Bar

	// SkipCache 为 true 时总是重新回放（实时推送需要观察者收到每个事件）
	SkipCache bool
	// Report 为 true 时生成 Markdown 报告和权益曲线 CSV
	Report         bool
	ReportLanguage string

	Observers []backtest.Observer
}

// Outcome 回测结果及附带信息
type Outcome struct {
	Result      *backtest.BacktestResult `json:"result"`
	Fingerprint string                   `json:"fingerprint"`
	Cached      bool                     `json:"cached"`
	ReportPath  string                   `json:"report_path,omitempty"`
	EquityPath  string                   `json:"equity_path,omitempty"`
	Duration    time.Duration            `json:"duration"`
}

// Run 执行回测
// 相同指纹的结果直接从缓存返回；新结果写入缓存和存储
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if len(req.Bars) == 0 {
		return nil, ErrNoBars
	}

	strat, err := r.registry.Create(req.Strategy, req.Options.Symbol, req.Params)
	if err != nil {
		r.metrics.RecordRunFailure(req.Strategy)
		return nil, err
	}
	var params map[string]float64
	if pp, ok := strat.(backtest.ParamProvider); ok {
		params = pp.Params()
	}

	start := time.Now()
	fingerprint := backtest.Fingerprint(req.Bars, req.Strategy, params, req.Options)
	run := func() (*backtest.BacktestResult, error) {
		bt := req.Options.NewBacktester(req.Bars, strat)
		bt.SetRunID(uuid.NewString())
		bt.AddObserver(r.metrics.NewRunObserver())
		for _, o := range req.Observers {
			bt.AddObserver(o)
		}
		return bt.Run()
	}

	var (
		result *backtest.BacktestResult
		cached bool
	)
	if req.SkipCache {
		result, err = run()
	} else {
		result, cached, err = cache.GetOrRun(ctx, r.cache, fingerprint, run)
		r.metrics.RecordCacheLookup(cached)
	}
	if err != nil {
		r.metrics.RecordRunFailure(req.Strategy)
		return nil, err
	}

	out := &Outcome{
		Result:      result,
		Fingerprint: fingerprint,
		Cached:      cached,
		Duration:    time.Since(start),
	}

	if !cached {
		if err := r.db.SaveRun(ctx, result, fingerprint); err != nil {
			logger.Warn("⚠️ 保存回测结果失败: %v", err)
		}
	}

	if req.Report {
		r.writeReport(out, req.ReportLanguage)
	}

	logger.Info("✅ 回测 %s 完成: 总收益率=%.2f%%, 夏普比率=%.2f, 缓存=%v",
		result.ID, result.Metrics.TotalReturn*100, result.Metrics.SharpeRatio, cached)
	return out, nil
}

func (r *Runner) writeReport(out *Outcome, lang string) {
	opts := r.report
	if lang != "" {
		opts.Language = lang
	}

	reportPath, err := backtest.GenerateReport(out.Result, opts)
	if err != nil {
		logger.Warn("⚠️ 生成报告失败: %v", err)
	} else {
		out.ReportPath = reportPath
		logger.Info("📄 报告已生成: %s", reportPath)
	}

	equityPath, err := backtest.SaveEquityCurveCSV(out.Result, opts.Dir)
	if err != nil {
		logger.Warn("⚠️ 保存权益曲线失败: %v", err)
	} else {
		out.EquityPath = equityPath
		logger.Info("📈 权益曲线已保存: %s", equityPath)
	}
}

// SweepRequest 参数扫描请求
type SweepRequest struct {
	Strategy string
	Base     map[string]float64
	Grid     map[string][]float64
	Options  backtest.RunOptions
	Bars     []backtest.Bar
	Workers  int
	Rank     bool // 按夏普比率排序
}

// Sweep 执行参数扫描
func (r *Runner) Sweep(ctx context.Context, req SweepRequest) ([]backtest.SweepResult, error) {
	if len(req.Bars) == 0 {
		return nil, ErrNoBars
	}
	if !r.registry.Has(req.Strategy) {
		return nil, fmt.Errorf("%w: %q", strategy.ErrUnknownStrategy, req.Strategy)
	}

	results, err := backtest.Sweep(ctx, req.Bars, backtest.SweepConfig{
		Options: req.Options,
		Base:    req.Base,
		Grid:    req.Grid,
		Workers: req.Workers,
	}, r.registry.Factory(req.Strategy, req.Options.Symbol))
	if err != nil {
		return nil, err
	}
	r.metrics.RecordSweep(req.Strategy, results)

	if req.Rank {
		results = backtest.RankBySharpe(results)
	}
	return results, nil
}
