package indicators

import (
	"math"
)

// ========== 波动率指标 ==========

// BollingerBands 布林带，返回上轨、中轨（SMA）、下轨
func BollingerBands(values []float64, period int, multiplier float64) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	std := StdDev(values, period)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		upper[i] = middle[i] + multiplier*std[i]
		lower[i] = middle[i] - multiplier*std[i]
	}
	return upper, middle, lower
}

// TrueRange 真实波幅，第一根为 high-low
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	tr := make([]float64, n)
	for i := 0; i < n; i++ {
		tr[i] = high[i] - low[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Abs(high[i]-close[i-1]))
			tr[i] = math.Max(tr[i], math.Abs(low[i]-close[i-1]))
		}
	}
	return tr
}

// ATR 平均真实波幅（Wilder 平滑），第一个有效值位于下标 period-1
func ATR(high, low, close []float64, period int) []float64 {
	tr := TrueRange(high, low, close)
	result := nanSeries(len(tr))
	if period <= 0 || len(tr) < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	result[period-1] = sum / float64(period)
	for i := period; i < len(tr); i++ {
		result[i] = (result[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return result
}
