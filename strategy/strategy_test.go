package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"meridian/backtest"
)

const testSymbol = "BTCUSDT"

// generateBars 按收盘价函数生成日线
func generateBars(n int, closeAt func(i int) float64) []backtest.Bar {
	bars := make([]backtest.Bar, n)
	start := int64(1704067200000) // 2024-01-01
	for i := 0; i < n; i++ {
		c := closeAt(i)
		bars[i] = backtest.Bar{
			Timestamp: start + int64(i)*86400000,
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// vShape 先跌后涨再跌
func vShape(i int) float64 {
	switch {
	case i < 30:
		return 100 - float64(i)
	case i < 60:
		return 70 + 2*float64(i-30)
	default:
		return 128 - 2*float64(i-60)
	}
}

func runStrategy(t *testing.T, name string, params map[string]float64, bars []backtest.Bar) *backtest.BacktestResult {
	t.Helper()
	reg := NewDefaultRegistry()
	s, err := reg.Create(name, testSymbol, params)
	if err != nil {
		t.Fatalf("创建策略 %s 失败: %v", name, err)
	}
	result, err := backtest.NewBacktester(testSymbol, bars, s, 10000).Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}
	return result
}

func TestDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry()
	want := []string{"bollinger_reversion", "buy_and_hold", "ema_trend", "rsi_momentum", "sma_crossover"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("策略数量错误: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("策略名[%d]: got %s, want %s", i, got[i], want[i])
		}
	}

	infos := reg.List()
	infos[0].Defaults["period"] = -1
	if reg.List()[0].Defaults["period"] != 20 {
		t.Error("List 返回的默认参数不应共享注册表内部状态")
	}
}

func TestRegistryErrors(t *testing.T) {
	reg := NewDefaultRegistry()

	if _, err := reg.Create("nope", testSymbol, nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("未知策略应返回 ErrUnknownStrategy, got %v", err)
	}
	if _, err := reg.Create("sma_crossover", testSymbol, map[string]float64{"fsat": 5}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("未知参数应返回 ErrInvalidParam, got %v", err)
	}
	if _, err := reg.Create("sma_crossover", testSymbol, map[string]float64{"fast": 30}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("fast >= slow 应返回 ErrInvalidParam, got %v", err)
	}
	if _, err := reg.Create("ema_trend", testSymbol, map[string]float64{"fast": 2.5}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("非整数周期应返回 ErrInvalidParam, got %v", err)
	}
	if _, err := reg.Create("rsi_momentum", testSymbol, map[string]float64{"oversold": 80}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("oversold >= overbought 应返回 ErrInvalidParam, got %v", err)
	}
	if _, err := reg.Create("buy_and_hold", testSymbol, map[string]float64{"position_pct": 1.5}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("position_pct > 1 应返回 ErrInvalidParam, got %v", err)
	}
	if _, err := reg.Create("bollinger_reversion", testSymbol, map[string]float64{"multiplier": math.NaN()}); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("NaN 参数应返回 ErrInvalidParam, got %v", err)
	}

	err := reg.Register(Info{Name: "buy_and_hold"}, NewBuyAndHold)
	if err == nil {
		t.Error("重复注册应返回错误")
	}
	if err := reg.Register(Info{Name: "custom"}, nil); err == nil {
		t.Error("nil 工厂应返回错误")
	}
}

func TestSMACrossover(t *testing.T) {
	result := runStrategy(t, "sma_crossover", nil, generateBars(90, vShape))

	if len(result.Rejected) != 0 {
		t.Fatalf("不应有被拒绝的信号: %+v", result.Rejected)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("交易数量错误: got %d, want 1", len(result.Trades))
	}
	if result.Trades[0].PnL <= 0 {
		t.Errorf("上涨段的交易应盈利, got %.4f", result.Trades[0].PnL)
	}
	if result.Params["fast"] != 10 || result.Params["slow"] != 20 {
		t.Errorf("结果应带上合并后的参数, got %v", result.Params)
	}
}

func TestEMATrend(t *testing.T) {
	result := runStrategy(t, "ema_trend", map[string]float64{"fast": 5, "slow": 15}, generateBars(90, vShape))
	if len(result.Rejected) != 0 {
		t.Fatalf("不应有被拒绝的信号: %+v", result.Rejected)
	}
	if len(result.Trades) == 0 {
		t.Fatal("趋势反转后应至少有一笔交易")
	}
}

func TestRSIMomentum(t *testing.T) {
	bars := generateBars(40, func(i int) float64 {
		if i < 20 {
			return 100 - float64(i)
		}
		return 62 + float64(i)
	})
	result := runStrategy(t, "rsi_momentum", nil, bars)

	if len(result.Trades) != 1 {
		t.Fatalf("交易数量错误: got %d, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.EntryPrice != 86 {
		t.Errorf("应在第一个有效 RSI 处买入: got %.2f, want 86", trade.EntryPrice)
	}
	if trade.ExitPrice != 91 {
		t.Errorf("应在 RSI 超过 70 时卖出: got %.2f, want 91", trade.ExitPrice)
	}
}

func TestBollingerReversion(t *testing.T) {
	bars := generateBars(40, func(i int) float64 {
		switch {
		case i < 30:
			return 100 + 0.5*math.Sin(float64(i))
		case i == 30:
			return 90
		default:
			return 101
		}
	})
	result := runStrategy(t, "bollinger_reversion", nil, bars)

	if len(result.Trades) != 1 {
		t.Fatalf("交易数量错误: got %d, want 1", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.EntryPrice != 90 || trade.ExitPrice != 101 {
		t.Errorf("成交价错误: entry=%.2f exit=%.2f", trade.EntryPrice, trade.ExitPrice)
	}
	if len(result.OpenPositions) != 0 {
		t.Errorf("回归后应空仓, got %+v", result.OpenPositions)
	}
}

func TestBuyAndHold(t *testing.T) {
	bars := generateBars(50, func(i int) float64 { return 100 + float64(i) })

	reg := NewDefaultRegistry()
	s, err := reg.Create("buy_and_hold", testSymbol, nil)
	if err != nil {
		t.Fatalf("创建策略失败: %v", err)
	}
	fills := 0
	bt := backtest.NewBacktester(testSymbol, bars, s, 10000)
	bt.AddObserver(backtest.ObserverFuncs{
		Fill: func(_ backtest.RunInfo, fill backtest.Fill, _ *backtest.Trade) {
			fills++
			if fill.Index != 0 {
				t.Errorf("只应在第一根K线成交, got index %d", fill.Index)
			}
		},
	})
	result, err := bt.Run()
	if err != nil {
		t.Fatalf("回测失败: %v", err)
	}

	if fills != 1 {
		t.Errorf("成交次数错误: got %d, want 1", fills)
	}
	if len(result.Trades) != 0 || len(result.OpenPositions) != 1 {
		t.Errorf("应持有一个未平仓头寸: trades=%d open=%d", len(result.Trades), len(result.OpenPositions))
	}
	if result.Metrics.TotalReturn <= 0 {
		t.Errorf("单边上涨行情收益应为正, got %.4f", result.Metrics.TotalReturn)
	}
}

// 同一个策略实例连续运行两次，结果必须一致
func TestStrategyHoldsNoCrossRunState(t *testing.T) {
	bars := generateBars(90, vShape)
	reg := NewDefaultRegistry()
	for _, name := range reg.Names() {
		s, err := reg.Create(name, testSymbol, nil)
		if err != nil {
			t.Fatalf("创建策略 %s 失败: %v", name, err)
		}
		first, err := backtest.NewBacktester(testSymbol, bars, s, 10000).Run()
		if err != nil {
			t.Fatalf("%s 第一次回测失败: %v", name, err)
		}
		second, err := backtest.NewBacktester(testSymbol, bars, s, 10000).Run()
		if err != nil {
			t.Fatalf("%s 第二次回测失败: %v", name, err)
		}
		a, _ := json.Marshal(first.Metrics)
		b, _ := json.Marshal(second.Metrics)
		if string(a) != string(b) {
			t.Errorf("%s 两次回测指标不一致:\n%s\n%s", name, a, b)
		}
	}
}

func TestRegistryFactorySweep(t *testing.T) {
	reg := NewDefaultRegistry()
	cfg := backtest.SweepConfig{
		Options: backtest.RunOptions{Symbol: testSymbol, InitialCapital: 10000},
		Grid:    map[string][]float64{"fast": {5, 10, 40}, "slow": {20}},
		Workers: 2,
	}
	results, err := backtest.Sweep(context.Background(), generateBars(90, vShape), cfg, reg.Factory("sma_crossover", testSymbol))
	if err != nil {
		t.Fatalf("参数扫描失败: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("结果数量错误: got %d, want 3", len(results))
	}
	for i, fast := range []float64{5, 10} {
		if results[i].Err != nil {
			t.Errorf("组合 %d 不应失败: %v", i, results[i].Err)
		}
		if results[i].Params["fast"] != fast {
			t.Errorf("结果顺序错误: got fast=%v, want %v", results[i].Params["fast"], fast)
		}
	}
	if !errors.Is(results[2].Err, ErrInvalidParam) {
		t.Errorf("fast >= slow 的组合应记录参数错误, got %v", results[2].Err)
	}
}
