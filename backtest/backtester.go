package backtest

import (
	"errors"
	"fmt"
	"time"

	"meridian/logger"
)

const defaultBarsPerYear = 252

// RejectedSignal 被账本拒绝的信号（非致命，记录在结果中）
type RejectedSignal struct {
	Index     int    `json:"index"`
	Timestamp int64  `json:"timestamp"`
	Signal    Signal `json:"signal"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

// BacktestResult 回测结果
type BacktestResult struct {
	// 基本信息
	ID             string             `json:"id,omitempty"`
	Symbol         string             `json:"symbol"`
	Strategy       string             `json:"strategy"`
	Params         map[string]float64 `json:"params,omitempty"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	InitialCapital float64            `json:"initial_capital"`
	FinalEquity    float64            `json:"final_equity"`
	FinalCash      float64            `json:"final_cash"`

	// 权益曲线（每根K线一个点）
	Equity []EquityPoint `json:"equity"`

	// 平仓记录
	Trades []Trade `json:"trades"`

	// 回测结束时仍未平仓的持仓
	OpenPositions []Position `json:"open_positions"`

	// 被拒绝的信号
	Rejected []RejectedSignal `json:"rejected"`

	// 指标（由 metrics.go 计算）
	Metrics Metrics `json:"metrics"`

	// 风险指标
	RiskMetrics RiskMetrics `json:"risk_metrics"`
}

// RunOptions 一次回测的运行参数
type RunOptions struct {
	Symbol         string  `json:"symbol" yaml:"symbol"`
	InitialCapital float64 `json:"initial_capital" yaml:"initial_capital"`
	BarsPerYear    float64 `json:"bars_per_year" yaml:"bars_per_year"`
	RiskFreeRate   float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
	LiquidateAtEnd bool    `json:"liquidate_at_end" yaml:"liquidate_at_end"`
}

// NewBacktester 按运行参数创建回测器
func (o RunOptions) NewBacktester(bars []Bar, strategy Strategy) *Backtester {
	bt := NewBacktester(o.Symbol, bars, strategy, o.InitialCapital)
	bt.SetBarsPerYear(o.BarsPerYear)
	bt.SetRiskFreeRate(o.RiskFreeRate)
	bt.SetLiquidateAtEnd(o.LiquidateAtEnd)
	return bt
}

// Backtester 回放驱动
// 逐根K线调用策略，把信号交给 FillResolver，再由 Ledger 记账并采样权益
type Backtester struct {
	symbol         string
	bars           []Bar
	strategy       Strategy
	initialCapital float64

	barsPerYear    float64
	riskFreeRate   float64
	liquidateAtEnd bool

	runID     string
	resolver  FillResolver
	observers []Observer
}

// NewBacktester 创建回测器
func NewBacktester(symbol string, bars []Bar, strategy Strategy, initialCapital float64) *Backtester {
	return &Backtester{
		symbol:         symbol,
		bars:           bars,
		strategy:       strategy,
		initialCapital: initialCapital,
		barsPerYear:    defaultBarsPerYear,
	}
}

// SetBarsPerYear 设置年化周期数（日线 252，小时线 252*24 ...）
func (bt *Backtester) SetBarsPerYear(n float64) {
	if n > 0 {
		bt.barsPerYear = n
	}
}

// SetRiskFreeRate 设置年化无风险利率（小数）
func (bt *Backtester) SetRiskFreeRate(rate float64) {
	bt.riskFreeRate = rate
}

// SetLiquidateAtEnd 回测结束时是否按最后收盘价平掉所有持仓
func (bt *Backtester) SetLiquidateAtEnd(liquidate bool) {
	bt.liquidateAtEnd = liquidate
}

// SetRunID 设置回测ID（持久化与推送时使用）
func (bt *Backtester) SetRunID(id string) {
	bt.runID = id
}

// AddObserver 添加观察者
func (bt *Backtester) AddObserver(o Observer) {
	if o != nil {
		bt.observers = append(bt.observers, o)
	}
}

// Run 运行回测
// 致命错误（空数据、非法资金、数据完整性错误）在账本变更前返回；
// 单笔成交被拒绝不会中断回放，只记录到 Rejected
func (bt *Backtester) Run() (*BacktestResult, error) {
	if len(bt.bars) == 0 {
		logger.Error("❌ 回测失败: K线数据为空")
		return nil, ErrEmptyBars
	}
	if bt.strategy == nil {
		return nil, errors.New("strategy is nil")
	}
	if err := ValidateBars(bt.bars); err != nil {
		logger.Error("❌ 回测失败: %v", err)
		return nil, fmt.Errorf("validate bars: %w", err)
	}
	ledger, err := NewLedger(bt.initialCapital)
	if err != nil {
		return nil, err
	}

	run := RunInfo{ID: bt.runID, Symbol: bt.symbol, Strategy: bt.strategy.Name(), Bars: len(bt.bars)}
	rejected := make([]RejectedSignal, 0)

	logger.Info("🚀 开始回测: %s 策略, %s, %d 根K线", run.Strategy, bt.symbol, len(bt.bars))

	for i, bar := range bt.bars {
		// 1. 调用策略（只暴露 [0..i] 前缀和账本快照）
		snap := ledger.Snapshot()
		signal := bt.strategy.OnBar(StrategyContext{
			Index:     i,
			Bar:       bar,
			Bars:      prefixView(bt.bars, i),
			Cash:      snap.Cash,
			Positions: snap.Positions,
		})

		// 2. 成交
		if fill, ok := bt.resolver.Resolve(signal, bar, i); ok {
			if rej, bad := bt.execute(ledger, run, fill, signal); bad {
				rejected = append(rejected, rej)
			}
		}

		// 3. 采样权益
		point := ledger.SampleEquity(bar.Timestamp, bt.priceAt(bar))
		for _, o := range bt.observers {
			o.OnEquity(run, point)
		}

		// 4. 进度显示
		if i%10000 == 0 && i > 0 {
			progress := float64(i) / float64(len(bt.bars)) * 100
			logger.Info("⏳ 回测进度: %.1f%%", progress)
		}
	}

	if bt.liquidateAtEnd {
		bt.liquidate(ledger, run)
	}

	trades := ledger.Trades()
	equity := ledger.EquityCurve()
	logger.Info("✅ 回测完成: %d 笔交易, %d 个信号被拒绝", len(trades), len(rejected))

	metrics := ComputeMetrics(trades, equity, bt.initialCapital, MetricsOptions{
		BarsPerYear:  bt.barsPerYear,
		RiskFreeRate: bt.riskFreeRate,
	})

	var params map[string]float64
	if pp, ok := bt.strategy.(ParamProvider); ok {
		params = pp.Params()
	}

	result := &BacktestResult{
		ID:             bt.runID,
		Symbol:         bt.symbol,
		Strategy:       run.Strategy,
		Params:         params,
		StartTime:      time.UnixMilli(bt.bars[0].Timestamp).UTC(),
		EndTime:        time.UnixMilli(bt.bars[len(bt.bars)-1].Timestamp).UTC(),
		InitialCapital: bt.initialCapital,
		FinalEquity:    equity[len(equity)-1].Equity,
		FinalCash:      ledger.Cash(),
		Equity:         equity,
		Trades:         trades,
		OpenPositions:  ledger.Positions(),
		Rejected:       rejected,
		Metrics:        metrics,
		RiskMetrics:    CalculateRiskMetrics(equity),
	}
	result.Metrics.RejectedSignals = len(rejected)

	for _, o := range bt.observers {
		o.OnComplete(run, result)
	}
	return result, nil
}

// execute 应用成交；被拒绝时返回 RejectedSignal
func (bt *Backtester) execute(ledger *Ledger, run RunInfo, fill Fill, signal Signal) (RejectedSignal, bool) {
	var (
		trade *Trade
		err   error
	)
	// 卖出无持仓的标的由账本以 ErrInvalidSell 拒绝
	if fill.Action == ActionBuy && fill.Symbol != bt.symbol {
		err = &FillError{Fill: fill, Err: fmt.Errorf("%w: %s (replaying %s)", ErrUnknownSymbol, fill.Symbol, bt.symbol)}
	} else {
		trade, err = ledger.ApplyFill(fill)
	}

	if err != nil {
		rej := RejectedSignal{
			Index:     fill.Index,
			Timestamp: fill.Timestamp,
			Signal:    signal,
			Reason:    err.Error(),
			Err:       err,
		}
		logger.Warn("⚠️ 信号被拒绝 [bar %d]: %v", fill.Index, err)
		for _, o := range bt.observers {
			o.OnReject(run, rej)
		}
		return rej, true
	}

	if trade != nil {
		logger.Debug("📉 卖出: 价格=%.4f, 数量=%.4f, 盈亏=%.4f", fill.Price, fill.Quantity, trade.PnL)
	} else {
		logger.Debug("📈 买入: 价格=%.4f, 数量=%.4f", fill.Price, fill.Quantity)
	}
	for _, o := range bt.observers {
		o.OnFill(run, fill, trade)
	}
	return RejectedSignal{}, false
}

// liquidate 按最后收盘价卖出全部持仓
// 以收盘价平仓不改变权益，最后一个权益点保持有效
func (bt *Backtester) liquidate(ledger *Ledger, run RunInfo) {
	last := len(bt.bars) - 1
	bar := bt.bars[last]
	for _, pos := range ledger.Positions() {
		fill, trade, err := ledger.ClosePosition(pos.Symbol, bar.Close, bar.Timestamp, last)
		if err != nil {
			logger.Warn("⚠️ 强制平仓失败: %v", err)
			continue
		}
		for _, o := range bt.observers {
			o.OnFill(run, fill, trade)
		}
	}
	logger.Info("📊 回测结束，强制平仓")
}

// priceAt 当前K线的价格查询（单标的回放）
func (bt *Backtester) priceAt(bar Bar) PriceLookup {
	return func(symbol string) (float64, bool) {
		if symbol == bt.symbol {
			return bar.Close, true
		}
		return 0, false
	}
}
