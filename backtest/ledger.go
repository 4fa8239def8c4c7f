package backtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"meridian/utils"
)

// Position 持仓（只做多，平均成本法）
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	EntryTime     int64   `json:"entry_time"` // 建仓时间（毫秒）
}

// Trade 平仓记录（全部或部分平仓时生成）
type Trade struct {
	Symbol     string     `json:"symbol"`
	Side       utils.Side `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	EntryTime  int64      `json:"entry_time"`
	ExitTime   int64      `json:"exit_time"`
	PnL        float64    `json:"pnl"`
}

// EquityPoint 权益点
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// PriceLookup 按标的查询当前收盘价
type PriceLookup func(symbol string) (float64, bool)

// Snapshot 账本的只读快照（不含成交记录）
type Snapshot struct {
	Cash      float64
	Positions map[string]Position
}

type lot struct {
	quantity  decimal.Decimal
	avgPrice  decimal.Decimal
	entryTime int64
}

// Ledger 模拟账户：现金、持仓、成交记录、权益曲线
// 只能通过 ApplyFill 修改现金与持仓；每次回测独占一个 Ledger
type Ledger struct {
	initialCapital decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*lot
	trades         []Trade
	equity         []EquityPoint
}

// NewLedger 创建账本
func NewLedger(initialCapital float64) (*Ledger, error) {
	if !(initialCapital > 0) || math.IsInf(initialCapital, 0) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCapital, initialCapital)
	}
	capital := decimal.NewFromFloat(initialCapital)
	return &Ledger{
		initialCapital: capital,
		cash:           capital,
		positions:      make(map[string]*lot),
		trades:         make([]Trade, 0),
		equity:         make([]EquityPoint, 0),
	}, nil
}

// ApplyFill 应用成交
// 买入：现金不足时返回 ErrInsufficientFunds（不部分成交）
// 卖出：无持仓或数量超过持仓时返回 ErrInvalidSell（不截断）
// 被拒绝的成交不会修改账本；平仓时返回生成的 Trade
func (l *Ledger) ApplyFill(fill Fill) (*Trade, error) {
	if !finite(fill.Price) || !(fill.Price > 0) {
		return nil, &FillError{Fill: fill, Err: fmt.Errorf("price must be positive and finite")}
	}
	if !finite(fill.Quantity) || !(fill.Quantity > 0) {
		return nil, &FillError{Fill: fill, Err: fmt.Errorf("quantity must be positive and finite")}
	}
	price := decimal.NewFromFloat(fill.Price)
	qty := decimal.NewFromFloat(fill.Quantity)

	switch fill.Action {
	case ActionBuy:
		return nil, l.applyBuy(fill, price, qty)
	case ActionSell:
		return l.applySell(fill, price, qty)
	default:
		return nil, &FillError{Fill: fill, Err: fmt.Errorf("unsupported action %q", fill.Action)}
	}
}

func (l *Ledger) applyBuy(fill Fill, price, qty decimal.Decimal) error {
	cost := price.Mul(qty)
	if cost.GreaterThan(l.cash) {
		return &FillError{Fill: fill, Err: fmt.Errorf("%w: cost %s exceeds cash %s",
			ErrInsufficientFunds, cost.StringFixed(2), l.cash.StringFixed(2))}
	}

	l.cash = l.cash.Sub(cost)
	pos, ok := l.positions[fill.Symbol]
	if !ok {
		l.positions[fill.Symbol] = &lot{quantity: qty, avgPrice: price, entryTime: fill.Timestamp}
		return nil
	}

	// 加仓后重新计算平均成本
	total := pos.quantity.Add(qty)
	pos.avgPrice = pos.avgPrice.Mul(pos.quantity).Add(cost).Div(total)
	pos.quantity = representable(total)
	return nil
}

// representable 持仓数量保持为 float64 可精确表示的值
// 策略看到的 Position.Quantity 与账本一致，卖出该数量即可全部平仓
func representable(qty decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(qty.InexactFloat64())
}

// ClosePosition 按给定价格卖出某标的的全部持仓
func (l *Ledger) ClosePosition(symbol string, price float64, timestamp int64, index int) (Fill, *Trade, error) {
	fill := Fill{Index: index, Timestamp: timestamp, Action: ActionSell, Symbol: symbol, Price: price}
	pos, ok := l.positions[symbol]
	if !ok {
		return fill, nil, &FillError{Fill: fill, Err: fmt.Errorf("%w: no open position in %s", ErrInvalidSell, symbol)}
	}
	fill.Quantity = pos.quantity.InexactFloat64()
	if !finite(price) || !(price > 0) {
		return fill, nil, &FillError{Fill: fill, Err: fmt.Errorf("price must be positive and finite")}
	}
	trade, err := l.applySell(fill, decimal.NewFromFloat(price), pos.quantity)
	return fill, trade, err
}

func (l *Ledger) applySell(fill Fill, price, qty decimal.Decimal) (*Trade, error) {
	pos, ok := l.positions[fill.Symbol]
	if !ok {
		return nil, &FillError{Fill: fill, Err: fmt.Errorf("%w: no open position in %s", ErrInvalidSell, fill.Symbol)}
	}
	if qty.GreaterThan(pos.quantity) {
		return nil, &FillError{Fill: fill, Err: fmt.Errorf("%w: quantity %s exceeds held %s",
			ErrInvalidSell, qty.String(), pos.quantity.String())}
	}

	pnl := price.Sub(pos.avgPrice).Mul(qty)
	l.cash = l.cash.Add(price.Mul(qty))

	trade := Trade{
		Symbol:     fill.Symbol,
		Side:       utils.SideLong,
		EntryPrice: pos.avgPrice.InexactFloat64(),
		ExitPrice:  fill.Price,
		Quantity:   fill.Quantity,
		EntryTime:  pos.entryTime,
		ExitTime:   fill.Timestamp,
		PnL:        pnl.InexactFloat64(),
	}
	l.trades = append(l.trades, trade)

	// 部分平仓保留平均成本
	pos.quantity = representable(pos.quantity.Sub(qty))
	if !pos.quantity.IsPositive() {
		delete(l.positions, fill.Symbol)
	}
	return &trade, nil
}

// SampleEquity 记录一个权益点：现金 + Σ(持仓数量 × 当前收盘价)
// 每根K线必须调用且只调用一次；查询不到价格的标的按平均成本计价
func (l *Ledger) SampleEquity(timestamp int64, prices PriceLookup) EquityPoint {
	equity := l.cash
	for _, symbol := range l.symbols() {
		pos := l.positions[symbol]
		mark := pos.avgPrice
		if prices != nil {
			if p, ok := prices(symbol); ok {
				mark = decimal.NewFromFloat(p)
			}
		}
		equity = equity.Add(pos.quantity.Mul(mark))
	}
	point := EquityPoint{Timestamp: timestamp, Equity: equity.InexactFloat64()}
	l.equity = append(l.equity, point)
	return point
}

// symbols 持仓标的（排序，保证浮点累加顺序确定）
func (l *Ledger) symbols() []string {
	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Cash 当前现金
func (l *Ledger) Cash() float64 {
	return l.cash.InexactFloat64()
}

// InitialCapital 初始资金
func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital.InexactFloat64()
}

// Position 查询单个持仓
func (l *Ledger) Position(symbol string) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return toPosition(symbol, pos), true
}

// Positions 持仓副本，按标的排序
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, symbol := range l.symbols() {
		out = append(out, toPosition(symbol, l.positions[symbol]))
	}
	return out
}

// Snapshot 现金与持仓快照，供策略读取
func (l *Ledger) Snapshot() Snapshot {
	positions := make(map[string]Position, len(l.positions))
	for symbol, pos := range l.positions {
		positions[symbol] = toPosition(symbol, pos)
	}
	return Snapshot{Cash: l.Cash(), Positions: positions}
}

// Trades 成交记录副本
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// EquityCurve 权益曲线副本
func (l *Ledger) EquityCurve() []EquityPoint {
	out := make([]EquityPoint, len(l.equity))
	copy(out, l.equity)
	return out
}

// RealizedPnL 已实现盈亏合计
func (l *Ledger) RealizedPnL() float64 {
	sum := decimal.Zero
	for _, t := range l.trades {
		sum = sum.Add(decimal.NewFromFloat(t.PnL))
	}
	return sum.InexactFloat64()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toPosition(symbol string, pos *lot) Position {
	return Position{
		Symbol:        symbol,
		Quantity:      pos.quantity.InexactFloat64(),
		AvgEntryPrice: pos.avgPrice.InexactFloat64(),
		EntryTime:     pos.entryTime,
	}
}
