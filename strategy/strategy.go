package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"meridian/backtest"
)

var (
	// ErrUnknownStrategy 策略未注册
	ErrUnknownStrategy = errors.New("unknown strategy")
	// ErrInvalidParam 策略参数非法
	ErrInvalidParam = errors.New("invalid strategy parameter")
)

// Factory 按交易对和参数构造策略实例
// params 已合并默认值；每次调用都返回独立实例
type Factory func(symbol string, params Params) (backtest.Strategy, error)

// Info 策略描述（用于 /api/strategies 与 CLI 输出）
type Info struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}

type entry struct {
	info    Info
	factory Factory
}

// Registry 策略注册表
// 显式创建并注入到调用方（CLI、Web 服务、参数扫描），不使用全局变量
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// NewDefaultRegistry 创建包含所有内置策略的注册表
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, b := range builtins() {
		if err := r.Register(b.info, b.factory); err != nil {
			panic(err)
		}
	}
	return r
}

// Register 注册策略，名称重复返回错误
func (r *Registry) Register(info Info, factory Factory) error {
	if info.Name == "" {
		return errors.New("strategy name is empty")
	}
	if factory == nil {
		return fmt.Errorf("strategy %q: factory is nil", info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[info.Name]; exists {
		return fmt.Errorf("strategy %q already registered", info.Name)
	}
	info.Defaults = Params(info.Defaults).clone()
	r.entries[info.Name] = entry{info: info, factory: factory}
	return nil
}

// Has 策略是否已注册
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names 已注册策略名（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List 已注册策略的描述（按名称排序）
func (r *Registry) List() []Info {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		info := r.entries[name].info
		info.Defaults = Params(info.Defaults).clone()
		infos = append(infos, info)
	}
	return infos
}

// Create 创建策略实例
// 未出现在默认参数中的参数名视为拼写错误，返回 ErrInvalidParam
func (r *Registry) Create(name, symbol string, params map[string]float64) (backtest.Strategy, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}

	merged := Params(e.info.Defaults).clone()
	for k, v := range params {
		if _, known := e.info.Defaults[k]; !known {
			return nil, fmt.Errorf("%w: %s does not accept %q", ErrInvalidParam, name, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s=%v", ErrInvalidParam, k, v)
		}
		merged[k] = v
	}
	return e.factory(symbol, merged)
}

// Factory 参数扫描使用的工厂
func (r *Registry) Factory(name, symbol string) backtest.StrategyFactory {
	return func(params map[string]float64) (backtest.Strategy, error) {
		return r.Create(name, symbol, params)
	}
}

// Params 策略参数
type Params map[string]float64

func (p Params) clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Float 读取浮点参数
func (p Params) Float(key string) float64 {
	return p[key]
}

// Period 读取周期参数，必须是 >= min 的整数
func (p Params) Period(key string, min int) (int, error) {
	v := p[key]
	if v != math.Trunc(v) || v < float64(min) {
		return 0, fmt.Errorf("%w: %s must be an integer >= %d, got %v", ErrInvalidParam, key, min, v)
	}
	return int(v), nil
}

// Fraction 读取 (0, 1] 区间的比例参数
func (p Params) Fraction(key string) (float64, error) {
	v := p[key]
	if v <= 0 || v > 1 {
		return 0, fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrInvalidParam, key, v)
	}
	return v, nil
}

// base 内置策略的公共部分：名称、交易对、参数与下单数量计算
type base struct {
	name   string
	symbol string
	params Params
}

func (b *base) Name() string {
	return b.name
}

// Params 实现 backtest.ParamProvider
func (b *base) Params() map[string]float64 {
	return b.params.clone()
}

func (b *base) position(ctx backtest.StrategyContext) (backtest.Position, bool) {
	return ctx.Position(b.symbol)
}

// buy 用当前现金的 fraction 按收盘价买入
// 数量截断到 8 位小数，保证成本不超过可用现金
func (b *base) buy(ctx backtest.StrategyContext, fraction float64, reason string) backtest.Signal {
	price := ctx.Bar.Close
	if price <= 0 || ctx.Cash <= 0 {
		return backtest.NoSignal()
	}
	budget := decimal.NewFromFloat(ctx.Cash).Mul(decimal.NewFromFloat(fraction))
	qty := budget.Div(decimal.NewFromFloat(price)).Truncate(8)
	if !qty.IsPositive() {
		return backtest.NoSignal()
	}
	return backtest.BuySignal(b.symbol, qty.InexactFloat64(), reason)
}

// sellAll 卖出全部持仓
func (b *base) sellAll(ctx backtest.StrategyContext, reason string) backtest.Signal {
	pos, ok := b.position(ctx)
	if !ok || pos.Quantity <= 0 {
		return backtest.NoSignal()
	}
	return backtest.SellSignal(b.symbol, pos.Quantity, reason)
}

type builtin struct {
	info    Info
	factory Factory
}

func builtins() []builtin {
	return []builtin{
		{
			info: Info{
				Name:        "sma_crossover",
				Description: "fast/slow simple moving average crossover, buys a fraction of cash and exits the whole position",
				Defaults:    map[string]float64{"fast": 10, "slow": 20, "position_pct": 0.1},
			},
			factory: NewSMACrossover,
		},
		{
			info: Info{
				Name:        "rsi_momentum",
				Description: "buys when RSI is oversold, sells when RSI is overbought",
				Defaults:    map[string]float64{"period": 14, "oversold": 30, "overbought": 70, "position_pct": 0.95},
			},
			factory: NewRSIMomentum,
		},
		{
			info: Info{
				Name:        "bollinger_reversion",
				Description: "buys below the lower Bollinger band, exits at the middle band",
				Defaults:    map[string]float64{"period": 20, "multiplier": 2, "position_pct": 0.95},
			},
			factory: NewBollingerReversion,
		},
		{
			info: Info{
				Name:        "ema_trend",
				Description: "holds while the fast EMA is above the slow EMA",
				Defaults:    map[string]float64{"fast": 12, "slow": 26, "position_pct": 0.95},
			},
			factory: NewEMATrend,
		},
		{
			info: Info{
				Name:        "buy_and_hold",
				Description: "buys on the first bar and never sells",
				Defaults:    map[string]float64{"position_pct": 0.99},
			},
			factory: NewBuyAndHold,
		},
	}
}
