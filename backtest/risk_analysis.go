package backtest

import (
	"math"
	"sort"
)

// RiskMetrics 历史模拟法风险指标，均为单根K线收益率口径的正数损失（小数）
type RiskMetrics struct {
	VaR95  float64 `json:"var_95"`  // 95% 置信度的风险价值
	VaR99  float64 `json:"var_99"`  // 99% 置信度的风险价值
	CVaR95 float64 `json:"cvar_95"` // 95% 置信度的条件风险价值
	CVaR99 float64 `json:"cvar_99"` // 99% 置信度的条件风险价值
}

// CalculateRiskMetrics 计算风险指标
func CalculateRiskMetrics(equity []EquityPoint) RiskMetrics {
	returns := calculateReturns(equity)
	if len(returns) == 0 {
		return RiskMetrics{}
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return RiskMetrics{
		VaR95:  historicalVaR(sorted, 0.95),
		VaR99:  historicalVaR(sorted, 0.99),
		CVaR95: conditionalVaR(sorted, 0.95),
		CVaR99: conditionalVaR(sorted, 0.99),
	}
}

// tailIndex 升序收益率中对应置信度分位的下标
func tailIndex(n int, confidence float64) int {
	index := int(float64(n) * (1 - confidence))
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

// historicalVaR 收益率为正时没有损失，VaR 为 0
func historicalVaR(sorted []float64, confidence float64) float64 {
	r := sorted[tailIndex(len(sorted), confidence)]
	if r >= 0 {
		return 0
	}
	return -r
}

// conditionalVaR 尾部（含 VaR 分位）平均损失
func conditionalVaR(sorted []float64, confidence float64) float64 {
	index := tailIndex(len(sorted), confidence)
	sum := 0.0
	for i := 0; i <= index; i++ {
		sum += sorted[i]
	}
	mean := sum / float64(index+1)
	if mean >= 0 {
		return 0
	}
	return math.Abs(mean)
}
