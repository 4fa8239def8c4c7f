package backtest

import (
	"math"
	"strings"
)

// Action 信号动作
type Action string

const (
	ActionNone Action = "none"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Signal 策略在每根K线上返回的交易意图
type Signal struct {
	Action   Action  `json:"action"`
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Reason   string  `json:"reason,omitempty"`
}

// NoSignal 不操作
func NoSignal() Signal {
	return Signal{Action: ActionNone}
}

// BuySignal 买入信号
func BuySignal(symbol string, quantity float64, reason string) Signal {
	return Signal{Action: ActionBuy, Symbol: symbol, Quantity: quantity, Reason: reason}
}

// SellSignal 卖出信号
func SellSignal(symbol string, quantity float64, reason string) Signal {
	return Signal{Action: ActionSell, Symbol: symbol, Quantity: quantity, Reason: reason}
}

// IsNone 是否为空操作（零值 Signal 也视为空操作）
func (s Signal) IsNone() bool {
	return s.Action == ActionNone || s.Action == ""
}

// valid 动作合法、标的非空、数量为正的有限数值
func (s Signal) valid() bool {
	if s.Action != ActionBuy && s.Action != ActionSell {
		return false
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return false
	}
	return s.Quantity > 0 && !math.IsInf(s.Quantity, 0)
}

// StrategyContext 策略在第 Index 根K线上可见的只读状态
type StrategyContext struct {
	Index     int
	Bar       Bar     // 当前K线，等于 Bars.Last()
	Bars      BarView // [0..Index] 前缀
	Cash      float64
	Positions map[string]Position // 持仓快照（副本）
}

// Position 返回某标的的持仓快照
func (c StrategyContext) Position(symbol string) (Position, bool) {
	p, ok := c.Positions[symbol]
	return p, ok
}

// Strategy 策略回调
// OnBar 不得依赖跨回测的可变状态，每次回放都应由前缀重新推导
type Strategy interface {
	Name() string
	OnBar(ctx StrategyContext) Signal
}

// ParamProvider 可选接口：暴露策略参数，用于指纹与报告
type ParamProvider interface {
	Params() map[string]float64
}

// StrategyFunc 函数式策略
type StrategyFunc struct {
	name string
	fn   func(ctx StrategyContext) Signal
}

// NewStrategyFunc 用函数构造策略
func NewStrategyFunc(name string, fn func(ctx StrategyContext) Signal) *StrategyFunc {
	return &StrategyFunc{name: name, fn: fn}
}

func (s *StrategyFunc) Name() string {
	return s.name
}

func (s *StrategyFunc) OnBar(ctx StrategyContext) Signal {
	if s.fn == nil {
		return NoSignal()
	}
	return s.fn(ctx)
}
