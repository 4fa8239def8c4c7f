package strategy

import (
	"fmt"
	"math"

	"meridian/backtest"
	"meridian/indicators"
)

// emaWindowFactor EMA 计算窗口 = slow * emaWindowFactor
// 固定窗口让同一根K线上的信号只取决于最近的K线，与回放起点无关
const emaWindowFactor = 4

// EMATrend 趋势跟踪策略
// 快 EMA 在慢 EMA 之上视为上涨趋势，空仓时买入；趋势反转时卖出
type EMATrend struct {
	base
	fast     int
	slow     int
	fraction float64
}

// NewEMATrend 创建趋势跟踪策略
func NewEMATrend(symbol string, params Params) (backtest.Strategy, error) {
	fast, err := params.Period("fast", 1)
	if err != nil {
		return nil, err
	}
	slow, err := params.Period("slow", 2)
	if err != nil {
		return nil, err
	}
	if fast >= slow {
		return nil, fmt.Errorf("%w: fast (%d) must be less than slow (%d)", ErrInvalidParam, fast, slow)
	}
	fraction, err := params.Fraction("position_pct")
	if err != nil {
		return nil, err
	}
	return &EMATrend{
		base:     base{name: "ema_trend", symbol: symbol, params: params.clone()},
		fast:     fast,
		slow:     slow,
		fraction: fraction,
	}, nil
}

// OnBar 实现 backtest.Strategy
func (s *EMATrend) OnBar(ctx backtest.StrategyContext) backtest.Signal {
	if ctx.Bars.Len() < s.slow {
		return backtest.NoSignal()
	}
	closes := ctx.Bars.Tail(s.slow * emaWindowFactor).Closes()
	fastEMA := indicators.Last(indicators.EMA(closes, s.fast))
	slowEMA := indicators.Last(indicators.EMA(closes, s.slow))
	if math.IsNaN(fastEMA) || math.IsNaN(slowEMA) {
		return backtest.NoSignal()
	}

	_, holding := s.position(ctx)
	switch {
	case fastEMA > slowEMA && !holding:
		return s.buy(ctx, s.fraction, fmt.Sprintf("上涨趋势 EMA%d %.4f > EMA%d %.4f", s.fast, fastEMA, s.slow, slowEMA))
	case fastEMA < slowEMA && holding:
		return s.sellAll(ctx, fmt.Sprintf("下跌趋势 EMA%d %.4f < EMA%d %.4f", s.fast, fastEMA, s.slow, slowEMA))
	}
	return backtest.NoSignal()
}
