package strategy

import (
	"fmt"
	"math"

	"meridian/backtest"
	"meridian/indicators"
)

// RSIMomentum RSI 动量策略
// RSI < oversold：超卖，空仓时买入；RSI > overbought：超买，持仓时卖出
type RSIMomentum struct {
	base
	period     int
	oversold   float64
	overbought float64
	fraction   float64
}

// NewRSIMomentum 创建 RSI 策略
func NewRSIMomentum(symbol string, params Params) (backtest.Strategy, error) {
	period, err := params.Period("period", 2)
	if err != nil {
		return nil, err
	}
	oversold, overbought := params.Float("oversold"), params.Float("overbought")
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("%w: need 0 < oversold (%v) < overbought (%v) < 100", ErrInvalidParam, oversold, overbought)
	}
	fraction, err := params.Fraction("position_pct")
	if err != nil {
		return nil, err
	}
	return &RSIMomentum{
		base:       base{name: "rsi_momentum", symbol: symbol, params: params.clone()},
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		fraction:   fraction,
	}, nil
}

// OnBar 实现 backtest.Strategy
func (s *RSIMomentum) OnBar(ctx backtest.StrategyContext) backtest.Signal {
	if ctx.Bars.Len() < s.period+1 {
		return backtest.NoSignal()
	}
	rsi := indicators.Last(indicators.RSI(ctx.Bars.Tail(s.period+1).Closes(), s.period))
	if math.IsNaN(rsi) {
		return backtest.NoSignal()
	}

	_, holding := s.position(ctx)
	switch {
	case rsi < s.oversold && !holding:
		return s.buy(ctx, s.fraction, fmt.Sprintf("RSI超卖 %.2f", rsi))
	case rsi > s.overbought && holding:
		return s.sellAll(ctx, fmt.Sprintf("RSI超买 %.2f", rsi))
	}
	return backtest.NoSignal()
}
