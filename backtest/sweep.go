package backtest

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"meridian/logger"
)

// StrategyFactory 按参数构造策略
type StrategyFactory func(params map[string]float64) (Strategy, error)

// SweepConfig 参数扫描配置
type SweepConfig struct {
	Options RunOptions
	Base    map[string]float64   // 固定参数
	Grid    map[string][]float64 // 扫描参数，笛卡尔积展开
	Workers int                  // 并发数，<= 0 时为 1
}

// SweepResult 单组参数的回测结果
type SweepResult struct {
	Params map[string]float64 `json:"params"`
	Result *BacktestResult    `json:"result,omitempty"`
	Err    error              `json:"-"`
	Error  string             `json:"error,omitempty"`
}

// ExpandGrid 展开参数网格
// 按参数名排序展开，最后一个参数变化最快，结果顺序确定
func ExpandGrid(base map[string]float64, grid map[string][]float64) []map[string]float64 {
	keys := make([]string, 0, len(grid))
	for k, values := range grid {
		if len(values) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	combos := []map[string]float64{cloneParams(base)}
	for _, k := range keys {
		next := make([]map[string]float64, 0, len(combos)*len(grid[k]))
		for _, combo := range combos {
			for _, v := range grid[k] {
				c := cloneParams(combo)
				c[k] = v
				next = append(next, c)
			}
		}
		combos = next
	}
	return combos
}

func cloneParams(params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Sweep 对参数网格并发回测
// 每组参数独占一个 Backtester 与 Ledger，K线只读共享；结果按网格顺序返回。
// 单组参数失败记录在对应 SweepResult.Err 中，只有数据错误或 ctx 取消会让整个扫描失败
func Sweep(ctx context.Context, bars []Bar, cfg SweepConfig, factory StrategyFactory) ([]SweepResult, error) {
	if len(bars) == 0 {
		return nil, ErrEmptyBars
	}
	if factory == nil {
		return nil, fmt.Errorf("strategy factory is nil")
	}
	if err := ValidateBars(bars); err != nil {
		return nil, fmt.Errorf("validate bars: %w", err)
	}

	combos := ExpandGrid(cfg.Base, cfg.Grid)
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger.Info("🔍 开始参数扫描: %d 组参数, %d 个并发", len(combos), workers)

	results := make([]SweepResult, len(combos))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, params := range combos {
		i, params := i, params
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = runCombination(bars, cfg.Options, params, factory)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("✅ 参数扫描完成: %d 组", len(results))
	return results, nil
}

func runCombination(bars []Bar, opts RunOptions, params map[string]float64, factory StrategyFactory) SweepResult {
	sr := SweepResult{Params: params}
	strategy, err := factory(params)
	if err != nil {
		sr.Err = fmt.Errorf("build strategy: %w", err)
		sr.Error = sr.Err.Error()
		return sr
	}
	result, err := opts.NewBacktester(bars, strategy).Run()
	if err != nil {
		sr.Err = err
		sr.Error = err.Error()
		return sr
	}
	sr.Result = result
	return sr
}

// RankBySharpe 按夏普比率降序排列（失败的组合排在最后），不修改入参
func RankBySharpe(results []SweepResult) []SweepResult {
	ranked := make([]SweepResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i].Result, ranked[j].Result
		if a == nil || b == nil {
			return a != nil
		}
		return a.Metrics.SharpeRatio > b.Metrics.SharpeRatio
	})
	return ranked
}
