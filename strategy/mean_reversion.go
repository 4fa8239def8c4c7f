package strategy

import (
	"fmt"
	"math"

	"meridian/backtest"
	"meridian/indicators"
)

// BollingerReversion 布林带均值回归策略
// 价格跌破下轨时买入，回到中轨（或突破上轨）时卖出
type BollingerReversion struct {
	base
	period     int
	multiplier float64
	fraction   float64
}

// NewBollingerReversion 创建均值回归策略
func NewBollingerReversion(symbol string, params Params) (backtest.Strategy, error) {
	period, err := params.Period("period", 2)
	if err != nil {
		return nil, err
	}
	multiplier := params.Float("multiplier")
	if multiplier <= 0 {
		return nil, fmt.Errorf("%w: multiplier must be > 0, got %v", ErrInvalidParam, multiplier)
	}
	fraction, err := params.Fraction("position_pct")
	if err != nil {
		return nil, err
	}
	return &BollingerReversion{
		base:       base{name: "bollinger_reversion", symbol: symbol, params: params.clone()},
		period:     period,
		multiplier: multiplier,
		fraction:   fraction,
	}, nil
}

// OnBar 实现 backtest.Strategy
func (s *BollingerReversion) OnBar(ctx backtest.StrategyContext) backtest.Signal {
	if ctx.Bars.Len() < s.period {
		return backtest.NoSignal()
	}
	upper, middle, lower := indicators.BollingerBands(ctx.Bars.Tail(s.period).Closes(), s.period, s.multiplier)
	up, mid, low := indicators.Last(upper), indicators.Last(middle), indicators.Last(lower)
	if math.IsNaN(mid) {
		return backtest.NoSignal()
	}

	price := ctx.Bar.Close
	_, holding := s.position(ctx)
	switch {
	case !holding && price < low:
		return s.buy(ctx, s.fraction, fmt.Sprintf("跌破下轨 %.4f < %.4f", price, low))
	case holding && price >= up:
		return s.sellAll(ctx, fmt.Sprintf("突破上轨 %.4f >= %.4f", price, up))
	case holding && price >= mid:
		return s.sellAll(ctx, fmt.Sprintf("回归中轨 %.4f >= %.4f", price, mid))
	}
	return backtest.NoSignal()
}
