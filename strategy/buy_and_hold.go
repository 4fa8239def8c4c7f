package strategy

import (
	"meridian/backtest"
)

// BuyAndHold 买入持有（基准策略）
type BuyAndHold struct {
	base
	fraction float64
}

// NewBuyAndHold 创建买入持有策略
func NewBuyAndHold(symbol string, params Params) (backtest.Strategy, error) {
	fraction, err := params.Fraction("position_pct")
	if err != nil {
		return nil, err
	}
	return &BuyAndHold{
		base:     base{name: "buy_and_hold", symbol: symbol, params: params.clone()},
		fraction: fraction,
	}, nil
}

// OnBar 只在第一根K线买入
func (s *BuyAndHold) OnBar(ctx backtest.StrategyContext) backtest.Signal {
	if ctx.Index != 0 {
		return backtest.NoSignal()
	}
	if _, holding := s.position(ctx); holding {
		return backtest.NoSignal()
	}
	return s.buy(ctx, s.fraction, "buy and hold")
}
