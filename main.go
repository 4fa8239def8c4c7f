package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"meridian/backtest"
	"meridian/cache"
	"meridian/config"
	"meridian/database"
	"meridian/i18n"
	"meridian/logger"
	"meridian/metrics"
	"meridian/runner"
	"meridian/strategy"
	"meridian/utils"
	"meridian/web"
)

// Version 版本号
var Version = "1.0.0"

const usage = `Meridian 回测引擎

用法:
  meridian <command> [-config config.yaml] [-debug]

命令:
  run     回放配置中的K线数据并输出回测结果（默认）
  sweep   按 sweep.grid 进行参数扫描
  serve   启动 HTTP API 与 websocket 实时回放服务
  watch   监控配置文件和数据文件，变化时重新回测

  -version  打印版本号
`

// app 各命令共享的服务
type app struct {
	cfg    *config.Config
	runner *runner.Runner
	db     database.Database
	cache  cache.ResultCache
}

func main() {
	// 检查版本参数
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Printf("Meridian Backtester\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	command := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command, args = args[0], args[1:]
	}
	switch command {
	case "run", "sweep", "serve", "watch":
	case "help":
		fmt.Print(usage)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n%s", command, usage)
		os.Exit(2)
	}

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	debugMode := fs.Bool("debug", false, "输出 DEBUG 日志")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}
	if *debugMode {
		cfg.System.LogLevel = "DEBUG"
	}
	setupLogging(cfg)
	defer logger.Close()

	logger.Info("🚀 Meridian 回测引擎启动...")
	logger.Info("📦 版本号: %s, 命令: %s", Version, command)

	a := newApp(cfg)
	defer a.Close()

	// 等待退出信号（SIGINT 或 SIGTERM）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		err = a.runOnce(ctx, cfg)
	case "sweep":
		err = a.sweep(ctx, cfg)
	case "serve":
		err = a.serve(ctx)
	case "watch":
		err = a.watch(ctx, *configPath)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Close()
		logger.Fatal("❌ %s 失败: %v", command, err)
	}
	logger.Info("✅ 已退出")
}

// setupLogging 日志级别、时区与语言
func setupLogging(cfg *config.Config) {
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败，使用 UTC: %v", cfg.System.Timezone, err)
	}
	logger.SetLocation(utils.Location())
	if err := i18n.Init(cfg.System.LogLanguage); err != nil {
		logger.Warn("⚠️ 初始化多语言失败: %v", err)
	}
}

// newApp 创建缓存、存储、指标与回测服务
// 缓存和数据库不可用时降级运行，不影响回测本身
func newApp(cfg *config.Config) *app {
	resultCache, err := cache.NewResultCache(cfg.Cache)
	if err != nil {
		logger.Warn("⚠️ 初始化结果缓存失败，禁用缓存: %v", err)
		resultCache = cache.NewNopCache()
	}

	var db database.Database
	if cfg.Database.Enabled {
		db, err = database.NewDatabase(cfg.Database)
		if err != nil {
			logger.Warn("⚠️ 初始化数据库失败，回测记录仅保存在内存中: %v", err)
			db = nil
		} else {
			logger.Info("✅ 数据库已连接: %s", cfg.Database.Type)
		}
	}
	if db == nil {
		db = database.NewMemoryDatabase(100)
	}

	r := runner.New(runner.Options{
		Registry: strategy.NewDefaultRegistry(),
		Cache:    resultCache,
		Database: db,
		Metrics:  metrics.NewPrometheusMetrics(),
		Report: backtest.ReportOptions{
			Dir:      cfg.Report.Dir,
			Language: cfg.ReportLanguage(),
		},
	})
	return &app{cfg: cfg, runner: r, db: db, cache: resultCache}
}

// Close 关闭缓存与数据库连接，可重复调用
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("⚠️ 关闭结果缓存失败: %v", err)
		}
		a.cache = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn("⚠️ 关闭数据库失败: %v", err)
		}
		a.db = nil
	}
}

func loadBars(cfg *config.Config) ([]backtest.Bar, error) {
	if cfg.Backtest.Data.Path == "" {
		return nil, fmt.Errorf("必须指定K线数据文件 (backtest.data.path)")
	}
	start := time.Now()
	bars, err := backtest.LoadBars(cfg.Backtest.Data.Path, cfg.Backtest.Data.Format)
	if err != nil {
		return nil, err
	}
	logger.Info("📥 已加载 %d 根K线: %s (耗时 %v)", len(bars), cfg.Backtest.Data.Path, time.Since(start).Round(time.Millisecond))
	return bars, nil
}

// runOnce 执行一次回测并打印结果
func (a *app) runOnce(ctx context.Context, cfg *config.Config) error {
	bars, err := loadBars(cfg)
	if err != nil {
		return err
	}
	out, err := a.runner.Run(ctx, runner.Request{
		Strategy:       cfg.Strategy.Name,
		Params:         cfg.Strategy.Params,
		Options:        cfg.RunOptions(),
		Bars:           bars,
		Report:         cfg.Report.Enabled,
		ReportLanguage: cfg.ReportLanguage(),
	})
	if err != nil {
		return err
	}
	printSummary(out, cfg.ReportLanguage())
	return nil
}

// printSummary 输出结果摘要到标准输出
func printSummary(out *runner.Outcome, lang string) {
	r := out.Result
	m := r.Metrics
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	row := func(key string, value string) {
		fmt.Fprintf(w, "%s\t%s\n", i18n.TWithLang(lang, key), value)
	}

	fmt.Fprintf(w, "%s\t%s\n", r.ID, r.Strategy)
	row("report_symbol", r.Symbol)
	row("report_initial_capital", fmt.Sprintf("%.2f", r.InitialCapital))
	row("report_final_equity", fmt.Sprintf("%.2f", r.FinalEquity))
	row("total_return", utils.FormatPercentage(m.TotalReturn*100, 2))
	row("annualized_return", utils.FormatPercentage(m.AnnualizedReturn*100, 2))
	row("sharpe_ratio", fmt.Sprintf("%.2f", m.SharpeRatio))
	row("max_drawdown", utils.FormatPercentage(m.MaxDrawdown*100, 2))
	row("win_rate", utils.FormatPercentage(m.WinRate*100, 2))
	row("profit_factor", formatRatio(m.ProfitFactor))
	row("total_trades", fmt.Sprintf("%d", m.TotalTrades))
	row("rejected_signals", fmt.Sprintf("%d", len(r.Rejected)))
	if out.ReportPath != "" {
		fmt.Fprintf(w, "report\t%s\n", out.ReportPath)
	}
	if out.Cached {
		fmt.Fprintf(w, "cache\t%s\n", out.Fingerprint[:12])
	}
	w.Flush()
}

func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}

// sweep 参数扫描，按夏普比率排序输出
func (a *app) sweep(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Sweep.Grid) == 0 {
		return fmt.Errorf("未配置扫描参数 (sweep.grid)")
	}
	bars, err := loadBars(cfg)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := a.runner.Sweep(ctx, runner.SweepRequest{
		Strategy: cfg.Strategy.Name,
		Base:     cfg.Strategy.Params,
		Grid:     cfg.Sweep.Grid,
		Options:  cfg.RunOptions(),
		Bars:     bars,
		Workers:  cfg.Sweep.Workers,
		Rank:     true,
	})
	if err != nil {
		return err
	}
	logger.Info("✅ 参数扫描完成: %d 组参数, 耗时 %v", len(results), time.Since(start).Round(time.Millisecond))

	keys := make([]string, 0, len(cfg.Sweep.Grid))
	for k := range cfg.Sweep.Grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "#\t%s\tsharpe\treturn\tmax_dd\ttrades\n", strings.Join(keys, "\t"))
	for i, r := range results {
		values := make([]string, len(keys))
		for j, k := range keys {
			values[j] = fmt.Sprintf("%g", r.Params[k])
		}
		if r.Result == nil {
			fmt.Fprintf(w, "%d\t%s\terror: %s\n", i+1, strings.Join(values, "\t"), r.Error)
			continue
		}
		m := r.Result.Metrics
		fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\t%s\t%d\n", i+1, strings.Join(values, "\t"),
			m.SharpeRatio, utils.FormatPercentage(m.TotalReturn*100, 2),
			utils.FormatPercentage(m.MaxDrawdown*100, 2), m.TotalTrades)
	}
	return w.Flush()
}

// serve 启动 Web 服务，阻塞直到收到退出信号
func (a *app) serve(ctx context.Context) error {
	collector := metrics.NewSystemMetricsCollector(a.runner.Metrics(), 15*time.Second)
	collector.Start(ctx)

	catalog := backtest.NewCatalog(a.cfg.Backtest.Data.Dir)
	if stats, err := catalog.Stats(); err == nil {
		logger.Info("📂 数据目录: %s (%d 个文件, %.2f MB)", catalog.Dir(), stats.FileCount, stats.SizeMB)
	}

	server := web.NewWebServer(web.NewServer(a.cfg, a.runner, catalog, Version))
	err := server.Run(ctx)
	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	return err
}

// watch 先回测一次，之后配置或数据变化时重新回测
func (a *app) watch(ctx context.Context, configPath string) error {
	if err := a.runOnce(ctx, a.cfg); err != nil {
		logger.Error("❌ 回测失败: %v", err)
	}

	hotReloader := config.NewHotReloader(a.cfg)
	watcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watcher.Errors():
			logger.Warn("⚠️ 配置重新加载失败，保留当前配置: %v", err)
		case update := <-watcher.Updates():
			if update.Diff != nil && !update.Diff.Empty() {
				logger.Info("🔄 配置已变更: %s", strings.Join(update.Diff.Paths(), ", "))
				if update.Diff.RequiresRestart {
					logger.Warn("⚠️ 部分配置（数据库、缓存、Web）需要重启后生效")
				}
			}
			if update.DataChanged {
				logger.Info("🔄 K线数据已更新")
			}
			if !a.applyUpdate(update) {
				continue
			}
			if err := a.runOnce(ctx, a.cfg); err != nil {
				logger.Error("❌ 回测失败: %v", err)
			}
		}
	}
}

// applyUpdate 采用新配置（包括不影响结果的部分），返回是否需要重新回测
func (a *app) applyUpdate(update config.Update) bool {
	if update.Config != nil {
		a.cfg = update.Config
		logger.SetLevel(logger.ParseLogLevel(a.cfg.System.LogLevel))
	}
	return update.DataChanged || (update.Diff != nil && update.Diff.AffectsResult)
}
