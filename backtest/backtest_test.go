package backtest

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

const testSymbol = "BTCUSDT"

// generateBars 生成模拟K线数据（震荡行情，每小时一根）
func generateBars(count int, basePrice, volatility float64) []Bar {
	bars := make([]Bar, count)
	price := basePrice
	timestamp := int64(1704067200000)

	for i := 0; i < count; i++ {
		// 确定性的波动
		change := (float64(i%10) - 4.5) * volatility * basePrice
		price += change
		if price < basePrice*0.8 {
			price = basePrice * 0.8
		}
		if price > basePrice*1.2 {
			price = basePrice * 1.2
		}
		close := price + (float64(i%3)-1)*volatility*basePrice

		bars[i] = Bar{
			Timestamp: timestamp + int64(i)*3600000,
			Open:      price,
			High:      math.Max(price, close) * (1 + volatility),
			Low:       math.Min(price, close) * (1 - volatility),
			Close:     close,
			Volume:    1000 + float64(i%100)*10,
		}
	}
	return bars
}

// barsFromCloses 按收盘价序列生成日线
func barsFromCloses(closes ...float64) []Bar {
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		bars[i] = Bar{
			Timestamp: int64(1704067200000) + int64(i)*86400000,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		}
	}
	return bars
}

// scripted 在指定K线返回预设信号
func scripted(signals map[int]Signal) Strategy {
	return NewStrategyFunc("scripted", func(ctx StrategyContext) Signal {
		if s, ok := signals[ctx.Index]; ok {
			return s
		}
		return NoSignal()
	})
}

// churn 确定性的高频买卖策略，会偶尔超卖、超买
func churn() Strategy {
	return NewStrategyFunc("churn", func(ctx StrategyContext) Signal {
		switch ctx.Index % 7 {
		case 0, 2:
			return BuySignal(testSymbol, ctx.Cash*0.3/ctx.Bar.Close, "add")
		case 4:
			if pos, ok := ctx.Position(testSymbol); ok {
				return SellSignal(testSymbol, pos.Quantity/2, "trim")
			}
			return SellSignal(testSymbol, 1, "naked sell")
		case 6:
			return BuySignal(testSymbol, ctx.Cash*2/ctx.Bar.Close, "overbuy")
		}
		return NoSignal()
	})
}

func TestThreeBarRoundTrip(t *testing.T) {
	bars := barsFromCloses(100, 110, 100)
	strategy := scripted(map[int]Signal{
		0: BuySignal(testSymbol, 1, "entry"),
		1: SellSignal(testSymbol, 1, "exit"),
	})

	result, err := NewBacktester(testSymbol, bars, strategy, 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("交易数量错误: got %d, want 1", len(result.Trades))
	}
	if result.Trades[0].PnL != 10 {
		t.Errorf("盈亏错误: got %v, want 10", result.Trades[0].PnL)
	}
	if result.Metrics.WinRate != 1 {
		t.Errorf("胜率错误: got %v, want 1", result.Metrics.WinRate)
	}
	if !math.IsInf(result.Metrics.ProfitFactor, 1) {
		t.Errorf("无亏损时利润因子应为 +Inf, got %v", result.Metrics.ProfitFactor)
	}
	if result.FinalEquity != 10010 || result.FinalCash != 10010 {
		t.Errorf("最终权益错误: equity=%v cash=%v", result.FinalEquity, result.FinalCash)
	}

	want := []float64{10000, 10010, 10010}
	for i, p := range result.Equity {
		if p.Equity != want[i] {
			t.Errorf("权益点[%d]: got %v, want %v", i, p.Equity, want[i])
		}
	}
}

func TestSellWithoutPositionIsRejected(t *testing.T) {
	bars := barsFromCloses(100, 101, 102)
	strategy := scripted(map[int]Signal{1: SellSignal(testSymbol, 1, "naked")})

	rejects := 0
	bt := NewBacktester(testSymbol, bars, strategy, 10000)
	bt.AddObserver(ObserverFuncs{Reject: func(RunInfo, RejectedSignal) { rejects++ }})
	result, err := bt.Run()
	if err != nil {
		t.Fatalf("回测不应失败: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Errorf("不应产生交易: %+v", result.Trades)
	}
	if result.Metrics.RejectedSignals != 1 || len(result.Rejected) != 1 || rejects != 1 {
		t.Fatalf("拒绝数量错误: metrics=%d list=%d observer=%d",
			result.Metrics.RejectedSignals, len(result.Rejected), rejects)
	}
	rej := result.Rejected[0]
	if rej.Index != 1 || !errors.Is(rej.Err, ErrInvalidSell) {
		t.Errorf("拒绝记录错误: %+v", rej)
	}
	if result.FinalEquity != 10000 {
		t.Errorf("账本不应变化: got %v", result.FinalEquity)
	}

	// 卖出从未买入过的其他标的同样是 ErrInvalidSell
	other := scripted(map[int]Signal{1: SellSignal("ETHUSDT", 1, "other symbol")})
	result, err = NewBacktester(testSymbol, bars, other, 10000).Run()
	if err != nil {
		t.Fatalf("回测不应失败: %v", err)
	}
	if len(result.Rejected) != 1 || !errors.Is(result.Rejected[0].Err, ErrInvalidSell) {
		t.Fatalf("卖出无持仓标的应以 ErrInvalidSell 拒绝: %+v", result.Rejected)
	}
	if errors.Is(result.Rejected[0].Err, ErrUnknownSymbol) {
		t.Errorf("卖出不应报告为未知标的: %v", result.Rejected[0].Err)
	}
}

func TestInsufficientFundsIsRejected(t *testing.T) {
	bars := barsFromCloses(100, 100)
	strategy := scripted(map[int]Signal{0: BuySignal(testSymbol, 150, "too big")})

	result, err := NewBacktester(testSymbol, bars, strategy, 10000).Run()
	if err != nil {
		t.Fatalf("回测不应失败: %v", err)
	}
	if len(result.Rejected) != 1 || !errors.Is(result.Rejected[0].Err, ErrInsufficientFunds) {
		t.Fatalf("应以资金不足拒绝: %+v", result.Rejected)
	}
	var fe *FillError
	if !errors.As(result.Rejected[0].Err, &fe) || fe.Fill.Quantity != 150 {
		t.Errorf("拒绝原因应携带成交信息: %v", result.Rejected[0].Err)
	}
	if len(result.OpenPositions) != 0 || result.FinalCash != 10000 {
		t.Errorf("不允许部分成交: cash=%v positions=%+v", result.FinalCash, result.OpenPositions)
	}
}

func TestUnknownSymbolIsRejected(t *testing.T) {
	bars := barsFromCloses(100, 100)
	strategy := scripted(map[int]Signal{0: BuySignal("ETHUSDT", 1, "wrong symbol")})

	result, err := NewBacktester(testSymbol, bars, strategy, 10000).Run()
	if err != nil {
		t.Fatalf("回测不应失败: %v", err)
	}
	if len(result.Rejected) != 1 || !errors.Is(result.Rejected[0].Err, ErrUnknownSymbol) {
		t.Fatalf("未知标的应被拒绝: %+v", result.Rejected)
	}
}

func TestInvalidSignalsAreDiscarded(t *testing.T) {
	bars := barsFromCloses(100, 100, 100, 100)
	strategy := scripted(map[int]Signal{
		0: BuySignal(testSymbol, 0, "zero"),
		1: BuySignal(testSymbol, math.NaN(), "nan"),
		2: BuySignal("", 1, "no symbol"),
		3: {Action: "hold", Symbol: testSymbol, Quantity: 1},
	})

	fills := 0
	bt := NewBacktester(testSymbol, bars, strategy, 10000)
	bt.AddObserver(ObserverFuncs{Fill: func(RunInfo, Fill, *Trade) { fills++ }})
	result, err := bt.Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if fills != 0 || len(result.Rejected) != 0 {
		t.Errorf("非法信号应被静默丢弃: fills=%d rejected=%d", fills, len(result.Rejected))
	}
}

// 策略在第 i 根K线只能看到 [0..i]
func TestCausality(t *testing.T) {
	bars := generateBars(200, 30000, 0.01)
	violations := 0
	strategy := NewStrategyFunc("view_check", func(ctx StrategyContext) Signal {
		if ctx.Bars.Len() != ctx.Index+1 {
			violations++
		}
		if ctx.Bars.Last().Timestamp != ctx.Bar.Timestamp || ctx.Bar.Timestamp != bars[ctx.Index].Timestamp {
			violations++
		}
		if tail := ctx.Bars.Tail(5); tail.Len() > 0 && tail.Last() != ctx.Bar {
			violations++
		}
		// 修改返回的序列不能影响下一根K线看到的数据
		closes := ctx.Bars.Closes()
		for i := range closes {
			closes[i] = -1
		}
		if ctx.Index > 0 && ctx.Bars.At(ctx.Index-1).Close != bars[ctx.Index-1].Close {
			violations++
		}
		return NoSignal()
	})

	if _, err := NewBacktester(testSymbol, bars, strategy, 10000).Run(); err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if violations != 0 {
		t.Errorf("因果性被破坏 %d 次", violations)
	}
}

func TestEquityCurveAndConservation(t *testing.T) {
	bars := generateBars(500, 30000, 0.01)
	result, err := NewBacktester(testSymbol, bars, churn(), 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	if len(result.Equity) != len(bars) {
		t.Fatalf("权益曲线长度错误: got %d, want %d", len(result.Equity), len(bars))
	}
	for i, p := range result.Equity {
		if p.Timestamp != bars[i].Timestamp {
			t.Fatalf("权益点[%d] 时间戳错误", i)
		}
	}
	if len(result.Trades) == 0 || len(result.Rejected) == 0 {
		t.Fatalf("测试策略应同时产生交易和拒绝: trades=%d rejected=%d", len(result.Trades), len(result.Rejected))
	}

	// 最终权益 = 现金 + 持仓 × 最后收盘价
	last := bars[len(bars)-1].Close
	marked := result.FinalCash
	cost := 0.0
	for _, pos := range result.OpenPositions {
		marked += pos.Quantity * last
		cost += pos.Quantity * pos.AvgEntryPrice
	}
	if math.Abs(marked-result.FinalEquity) > 1e-6 {
		t.Errorf("最终权益不守恒: marked=%v equity=%v", marked, result.FinalEquity)
	}

	// 现金 + 持仓成本 = 初始资金 + 已实现盈亏
	realized := 0.0
	for _, trade := range result.Trades {
		realized += trade.PnL
	}
	if diff := result.FinalCash + cost - (result.InitialCapital + realized); math.Abs(diff) > 1e-6 {
		t.Errorf("资金不守恒: 差额 %v", diff)
	}
}

func TestMetricRanges(t *testing.T) {
	bars := generateBars(500, 30000, 0.02)
	result, err := NewBacktester(testSymbol, bars, churn(), 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	m := result.Metrics
	if m.MaxDrawdown < 0 || m.MaxDrawdown > 1 {
		t.Errorf("最大回撤超出范围: %v", m.MaxDrawdown)
	}
	if m.WinRate < 0 || m.WinRate > 1 {
		t.Errorf("胜率超出范围: %v", m.WinRate)
	}
	if m.TotalTrades != len(result.Trades) || m.RejectedSignals != len(result.Rejected) {
		t.Errorf("计数不一致: %+v", m)
	}
	if m.LargestLoss > 0 || m.AvgLoss > 0 {
		t.Errorf("亏损指标应为非正数: largest=%v avg=%v", m.LargestLoss, m.AvgLoss)
	}
}

func TestIdempotence(t *testing.T) {
	bars := generateBars(300, 30000, 0.01)
	first, err := NewBacktester(testSymbol, bars, churn(), 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	second, err := NewBacktester(testSymbol, bars, churn(), 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	a, err := json.Marshal(first.Metrics)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	b, _ := json.Marshal(second.Metrics)
	if string(a) != string(b) {
		t.Errorf("两次回测指标不一致:\n%s\n%s", a, b)
	}
}

func TestDataIntegrityErrorAbortsRun(t *testing.T) {
	tests := []struct {
		name  string
		bars  []Bar
		index int
		field string
	}{
		{
			name:  "时间戳非递增",
			bars:  []Bar{{Timestamp: 1, Close: 1}, {Timestamp: 2, Close: 1}, {Timestamp: 2, Close: 1}},
			index: 2,
			field: "timestamp",
		},
		{
			name:  "收盘价为 NaN",
			bars:  []Bar{{Timestamp: 1, Close: 1}, {Timestamp: 2, Close: math.NaN()}},
			index: 1,
			field: "close",
		},
		{
			name:  "成交量为 Inf",
			bars:  []Bar{{Timestamp: 1, Close: 1, Volume: math.Inf(1)}},
			index: 0,
			field: "volume",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := 0
			strategy := NewStrategyFunc("noop", func(StrategyContext) Signal {
				called++
				return NoSignal()
			})
			result, err := NewBacktester(testSymbol, tt.bars, strategy, 10000).Run()
			if result != nil {
				t.Error("数据错误时不应返回结果")
			}
			var die *DataIntegrityError
			if !errors.As(err, &die) {
				t.Fatalf("应返回 DataIntegrityError, got %v", err)
			}
			if die.Index != tt.index || die.Field != tt.field {
				t.Errorf("错误定位不对: got index=%d field=%s", die.Index, die.Field)
			}
			if called != 0 {
				t.Errorf("数据错误时不应调用策略")
			}
		})
	}
}

func TestRunSetupErrors(t *testing.T) {
	strategy := scripted(nil)
	if _, err := NewBacktester(testSymbol, nil, strategy, 10000).Run(); !errors.Is(err, ErrEmptyBars) {
		t.Errorf("空数据应返回 ErrEmptyBars, got %v", err)
	}
	bars := barsFromCloses(100)
	for _, capital := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := NewBacktester(testSymbol, bars, strategy, capital).Run(); !errors.Is(err, ErrInvalidCapital) {
			t.Errorf("初始资金 %v 应返回 ErrInvalidCapital, got %v", capital, err)
		}
	}
	if _, err := NewBacktester(testSymbol, bars, nil, 10000).Run(); err == nil {
		t.Error("策略为空应返回错误")
	}
}

func TestLiquidateAtEnd(t *testing.T) {
	bars := barsFromCloses(100, 105, 120)
	strategy := scripted(map[int]Signal{0: BuySignal(testSymbol, 10, "entry")})

	held, err := NewBacktester(testSymbol, bars, strategy, 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(held.Trades) != 0 || len(held.OpenPositions) != 1 {
		t.Fatalf("不平仓时应保留持仓: %+v", held.OpenPositions)
	}

	opts := RunOptions{Symbol: testSymbol, InitialCapital: 10000, LiquidateAtEnd: true}
	closed, err := opts.NewBacktester(bars, strategy).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	if len(closed.Trades) != 1 || len(closed.OpenPositions) != 0 {
		t.Fatalf("应强制平仓: trades=%d open=%d", len(closed.Trades), len(closed.OpenPositions))
	}
	if closed.Trades[0].PnL != 200 || closed.Trades[0].ExitPrice != 120 {
		t.Errorf("平仓交易错误: %+v", closed.Trades[0])
	}
	if closed.FinalEquity != held.FinalEquity || closed.FinalCash != closed.FinalEquity {
		t.Errorf("按收盘价平仓不应改变权益: held=%v closed=%v cash=%v",
			held.FinalEquity, closed.FinalEquity, closed.FinalCash)
	}
}

func TestObserverCallbacks(t *testing.T) {
	bars := generateBars(120, 30000, 0.01)
	var equity, fills, rejects, complete int
	var info RunInfo

	bt := NewBacktester(testSymbol, bars, churn(), 10000)
	bt.SetRunID("run-1")
	bt.AddObserver(ObserverFuncs{
		Fill:   func(RunInfo, Fill, *Trade) { fills++ },
		Reject: func(RunInfo, RejectedSignal) { rejects++ },
		Equity: func(RunInfo, EquityPoint) { equity++ },
		Complete: func(run RunInfo, result *BacktestResult) {
			complete++
			info = run
		},
	})
	bt.AddObserver(nil)
	result, err := bt.Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	if equity != len(bars) {
		t.Errorf("权益回调次数错误: got %d, want %d", equity, len(bars))
	}
	if rejects != len(result.Rejected) {
		t.Errorf("拒绝回调次数错误: got %d, want %d", rejects, len(result.Rejected))
	}
	if fills == 0 || complete != 1 {
		t.Errorf("回调次数错误: fills=%d complete=%d", fills, complete)
	}
	if info.ID != "run-1" || info.Strategy != "churn" || info.Bars != len(bars) || result.ID != "run-1" {
		t.Errorf("RunInfo 错误: %+v", info)
	}
}
