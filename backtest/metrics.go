package backtest

import (
	"encoding/json"
	"math"

	"meridian/utils"
)

// MetricsOptions 指标计算参数
type MetricsOptions struct {
	BarsPerYear  float64 // 年化周期数，<= 0 时按日线 252
	RiskFreeRate float64 // 年化无风险利率（小数）
}

// Metrics 回测指标，收益率、回撤、胜率均为小数（0.05 表示 5%）
type Metrics struct {
	// 收益指标
	TotalReturn      float64 `json:"total_return"`      // 总收益率
	AnnualizedReturn float64 `json:"annualized_return"` // 年化收益率
	FinalEquity      float64 `json:"final_equity"`      // 最终权益

	// 风险指标
	MaxDrawdown         float64 `json:"max_drawdown"`          // 最大回撤
	MaxDrawdownDuration int     `json:"max_drawdown_duration"` // 最大回撤持续K线数
	Volatility          float64 `json:"volatility"`            // 年化波动率

	// 风险调整收益
	SharpeRatio  float64 `json:"sharpe_ratio"`  // 夏普比率
	SortinoRatio float64 `json:"sortino_ratio"` // 索提诺比率
	CalmarRatio  float64 `json:"calmar_ratio"`  // 卡玛比率

	// 交易指标
	TotalTrades     int     `json:"total_trades"`     // 平仓次数
	RejectedSignals int     `json:"rejected_signals"` // 被拒绝的信号数
	WinRate         float64 `json:"win_rate"`         // 胜率
	ProfitFactor    float64 `json:"profit_factor"`    // 利润因子，无亏损时为 +Inf
	AvgWin          float64 `json:"avg_win"`          // 平均盈利
	AvgLoss         float64 `json:"avg_loss"`         // 平均亏损（负数）
	LargestWin      float64 `json:"largest_win"`      // 最大单笔盈利
	LargestLoss     float64 `json:"largest_loss"`     // 最大单笔亏损（负数）

	// 连续性指标
	MaxConsecutiveWins   int `json:"max_consecutive_wins"`   // 最大连续盈利次数
	MaxConsecutiveLosses int `json:"max_consecutive_losses"` // 最大连续亏损次数
}

// ProfitFactorInf JSON 中表示无亏损利润因子的字符串
const ProfitFactorInf = "inf"

type metricsAlias Metrics

// MarshalJSON +Inf 的利润因子编码为 "inf"
func (m Metrics) MarshalJSON() ([]byte, error) {
	var pf interface{} = m.ProfitFactor
	if math.IsInf(m.ProfitFactor, 1) {
		pf = ProfitFactorInf
	}
	return json.Marshal(struct {
		metricsAlias
		ProfitFactor interface{} `json:"profit_factor"`
	}{metricsAlias(m), pf})
}

// UnmarshalJSON 解析 "inf" 利润因子
func (m *Metrics) UnmarshalJSON(data []byte) error {
	aux := struct {
		*metricsAlias
		ProfitFactor json.RawMessage `json:"profit_factor"`
	}{metricsAlias: (*metricsAlias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ProfitFactor) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.ProfitFactor, &s); err == nil {
		if s == ProfitFactorInf {
			m.ProfitFactor = math.Inf(1)
		}
		return nil
	}
	return json.Unmarshal(aux.ProfitFactor, &m.ProfitFactor)
}

// ComputeMetrics 由平仓记录和权益曲线计算指标
func ComputeMetrics(trades []Trade, equity []EquityPoint, initialCapital float64, opts MetricsOptions) Metrics {
	if opts.BarsPerYear <= 0 {
		opts.BarsPerYear = defaultBarsPerYear
	}
	pnls := tradePnLs(trades)
	returns := calculateReturns(equity)
	avgWin, avgLoss := utils.AverageWinLoss(pnls)

	metrics := Metrics{
		// 收益指标
		TotalReturn:      calculateTotalReturn(equity, initialCapital),
		AnnualizedReturn: calculateAnnualizedReturn(equity, initialCapital, opts.BarsPerYear),
		FinalEquity:      finalEquity(equity, initialCapital),

		// 风险指标
		MaxDrawdown:         calculateMaxDrawdown(equity),
		MaxDrawdownDuration: calculateMaxDrawdownDuration(equity),
		Volatility:          utils.StdDev(returns) * math.Sqrt(opts.BarsPerYear),

		// 风险调整收益
		SharpeRatio:  utils.SharpeRatio(returns, opts.BarsPerYear, opts.RiskFreeRate),
		SortinoRatio: calculateSortinoRatio(returns, opts),

		// 交易指标
		TotalTrades:  len(trades),
		WinRate:      utils.WinRate(pnls),
		ProfitFactor: utils.ProfitFactor(pnls),
		AvgWin:       avgWin,
		AvgLoss:      avgLoss,
		LargestWin:   calculateLargestWin(pnls),
		LargestLoss:  calculateLargestLoss(pnls),

		// 连续性指标
		MaxConsecutiveWins:   maxStreak(pnls, func(p float64) bool { return p > 0 }),
		MaxConsecutiveLosses: maxStreak(pnls, func(p float64) bool { return p < 0 }),
	}
	if metrics.MaxDrawdown > 0 {
		metrics.CalmarRatio = metrics.AnnualizedReturn / metrics.MaxDrawdown
	}
	return metrics
}

func tradePnLs(trades []Trade) []float64 {
	pnls := make([]float64, len(trades))
	for i, t := range trades {
		pnls[i] = t.PnL
	}
	return pnls
}

func finalEquity(equity []EquityPoint, initialCapital float64) float64 {
	if len(equity) == 0 {
		return initialCapital
	}
	return equity[len(equity)-1].Equity
}

// calculateReturns 计算逐K线收益率序列
func calculateReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1].Equity > 0 {
			returns[i-1] = (equity[i].Equity - equity[i-1].Equity) / equity[i-1].Equity
		}
	}

	return returns
}

// calculateTotalReturn 总收益率 = 最终权益 / 初始资金 - 1
func calculateTotalReturn(equity []EquityPoint, initialCapital float64) float64 {
	if len(equity) == 0 || initialCapital == 0 {
		return 0
	}
	return equity[len(equity)-1].Equity/initialCapital - 1
}

// calculateAnnualizedReturn 按收益周期数 len(equity)-1 年化
func calculateAnnualizedReturn(equity []EquityPoint, initialCapital, barsPerYear float64) float64 {
	periods := len(equity) - 1
	if periods < 1 || initialCapital == 0 {
		return 0
	}
	growth := 1 + calculateTotalReturn(equity, initialCapital)
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, barsPerYear/float64(periods)) - 1
}

// calculateMaxDrawdown 最大回撤，取值 [0,1]
func calculateMaxDrawdown(equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}

	maxDrawdown := 0.0
	peak := equity[0].Equity

	for _, point := range equity {
		if point.Equity > peak {
			peak = point.Equity
		}

		if peak > 0 {
			drawdown := (peak - point.Equity) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return math.Min(maxDrawdown, 1)
}

// calculateMaxDrawdownDuration 最长的低于前高的连续K线数
func calculateMaxDrawdownDuration(equity []EquityPoint) int {
	if len(equity) == 0 {
		return 0
	}

	maxDuration := 0
	currentDuration := 0
	peak := equity[0].Equity

	for _, point := range equity {
		if point.Equity >= peak {
			peak = point.Equity
			currentDuration = 0
			continue
		}
		currentDuration++
		if currentDuration > maxDuration {
			maxDuration = currentDuration
		}
	}

	return maxDuration
}

// calculateSortinoRatio 索提诺比率（只考虑下行波动），无下行收益时为 0
func calculateSortinoRatio(returns []float64, opts MetricsOptions) float64 {
	if len(returns) == 0 {
		return 0
	}

	downVariance := 0.0
	downCount := 0
	for _, r := range returns {
		if r < 0 {
			downVariance += r * r
			downCount++
		}
	}
	if downCount == 0 {
		return 0
	}

	downStdDev := math.Sqrt(downVariance / float64(downCount))
	if downStdDev == 0 {
		return 0
	}

	excess := utils.Mean(returns) - opts.RiskFreeRate/opts.BarsPerYear
	return excess / downStdDev * math.Sqrt(opts.BarsPerYear)
}

// calculateLargestWin 最大单笔盈利，无盈利交易时为 0
func calculateLargestWin(pnls []float64) float64 {
	largest := 0.0
	for _, p := range pnls {
		if p > largest {
			largest = p
		}
	}
	return largest
}

// calculateLargestLoss 最大单笔亏损（负数），无亏损交易时为 0
func calculateLargestLoss(pnls []float64) float64 {
	largest := 0.0
	for _, p := range pnls {
		if p < largest {
			largest = p
		}
	}
	return largest
}

// maxStreak 满足条件的最长连续交易数
func maxStreak(pnls []float64, match func(float64) bool) int {
	best, current := 0, 0
	for _, p := range pnls {
		if match(p) {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return best
}
