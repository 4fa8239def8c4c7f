package indicators

import (
	"math"
)

// ========== 动量指标 ==========

// RSI 相对强弱指数（涨跌幅的简单滚动平均）
// 第一个有效值位于下标 period；窗口内没有下跌时为 100，没有涨跌时为 50
func RSI(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return result
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	gainSum, lossSum := 0.0, 0.0
	for i := 1; i <= period; i++ {
		gainSum += gains[i]
		lossSum += losses[i]
	}
	for i := period; i < len(values); i++ {
		if i > period {
			gainSum += gains[i] - gains[i-period]
			lossSum += losses[i] - losses[i-period]
		}
		result[i] = rsiValue(gainSum/float64(period), lossSum/float64(period))
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	// 滑动求和可能累积出极小的负数
	if avgLoss <= 1e-12 {
		if avgGain <= 1e-12 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Stochastic 随机指标，返回 %K 与 %D（%K 的 dPeriod 日 SMA）
// 窗口内最高价等于最低价时 %K 取 50
func Stochastic(high, low, close []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := minLen(high, low, close)
	k = nanSeries(n)
	if kPeriod <= 0 {
		return k, nanSeries(n)
	}

	for i := kPeriod - 1; i < n; i++ {
		highest, lowest := math.Inf(-1), math.Inf(1)
		for j := i - kPeriod + 1; j <= i; j++ {
			highest = math.Max(highest, high[j])
			lowest = math.Min(lowest, low[j])
		}
		if highest == lowest {
			k[i] = 50
			continue
		}
		k[i] = 100 * (close[i] - lowest) / (highest - lowest)
	}
	return k, SMA(k, dPeriod)
}

// ROC 变动率（百分比）
func ROC(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	for i := period; i < len(values); i++ {
		if values[i-period] != 0 {
			result[i] = (values[i] - values[i-period]) / values[i-period] * 100
		}
	}
	return result
}

func minLen(series ...[]float64) int {
	n := math.MaxInt
	for _, s := range series {
		if len(s) < n {
			n = len(s)
		}
	}
	if n == math.MaxInt {
		return 0
	}
	return n
}
