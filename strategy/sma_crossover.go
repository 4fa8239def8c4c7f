package strategy

import (
	"fmt"
	"math"

	"meridian/backtest"
	"meridian/indicators"
)

// SMACrossover 双均线策略
// 快线在慢线之上且空仓时买入现金的 position_pct，快线跌破慢线时全部卖出
type SMACrossover struct {
	base
	fast     int
	slow     int
	fraction float64
}

// NewSMACrossover 创建双均线策略
func NewSMACrossover(symbol string, params Params) (backtest.Strategy, error) {
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
	return &SMACrossover{
		base:     base{name: "sma_crossover", symbol: symbol, params: params.clone()},
		fast:     fast,
		slow:     slow,
		fraction: fraction,
	}, nil
}

// OnBar 实现 backtest.Strategy
func (s *SMACrossover) OnBar(ctx backtest.StrategyContext) backtest.Signal {
	if ctx.Bars.Len() < s.slow {
		return backtest.NoSignal()
	}
	closes := ctx.Bars.Tail(s.slow).Closes()
	fastMA := indicators.Last(indicators.SMA(closes, s.fast))
	slowMA := indicators.Last(indicators.SMA(closes, s.slow))
	if math.IsNaN(fastMA) || math.IsNaN(slowMA) {
		return backtest.NoSignal()
	}

	_, holding := s.position(ctx)
	switch {
	case fastMA > slowMA && !holding:
		return s.buy(ctx, s.fraction, fmt.Sprintf("SMA%d %.4f > SMA%d %.4f", s.fast, fastMA, s.slow, slowMA))
	case fastMA < slowMA && holding:
		return s.sellAll(ctx, fmt.Sprintf("SMA%d %.4f < SMA%d %.4f", s.fast, fastMA, s.slow, slowMA))
	}
	return backtest.NoSignal()
}
