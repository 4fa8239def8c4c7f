// Package indicators 技术指标
// 所有函数都是纯函数：输出序列与输入等长，预热期不足的位置为 NaN，输入过短时不报错
package indicators

import (
	"math"
)

// nanSeries 长度为 n 的全 NaN 序列
func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid 第一个非 NaN 值的下标，没有时返回 len(values)
func firstValid(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(values)
}

// SMA 简单移动平均
func SMA(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	start := firstValid(values)
	if len(values)-start < period {
		return result
	}

	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	result[start+period-1] = sum / float64(period)

	// 滑动计算后续 SMA
	for i := start + period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i] = sum / float64(period)
	}
	return result
}

// EMA 指数移动平均，以前 period 个有效值的 SMA 作为起点
func EMA(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	start := firstValid(values)
	if len(values)-start < period {
		return result
	}

	multiplier := 2.0 / (float64(period) + 1.0)
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	result[start+period-1] = sum / float64(period)

	for i := start + period; i < len(values); i++ {
		result[i] = values[i]*multiplier + result[i-1]*(1-multiplier)
	}
	return result
}

// WMA 线性加权移动平均（越新的值权重越大）
func WMA(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	start := firstValid(values)
	weightSum := float64(period*(period+1)) / 2

	for i := start + period - 1; i < len(values); i++ {
		sum := 0.0
		for j := 0; j < period; j++ {
			sum += values[i-period+1+j] * float64(j+1)
		}
		result[i] = sum / weightSum
	}
	return result
}

// StdDev 滚动总体标准差
func StdDev(values []float64, period int) []float64 {
	result := nanSeries(len(values))
	if period <= 0 {
		return result
	}
	mean := SMA(values, period)
	for i := range values {
		if math.IsNaN(mean[i]) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean[i]
			variance += d * d
		}
		result[i] = math.Sqrt(variance / float64(period))
	}
	return result
}

// Last 序列最后一个值，空序列为 NaN
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// Ready 序列最后 n 个值是否都已完成预热
func Ready(series []float64, n int) bool {
	if n <= 0 || len(series) < n {
		return false
	}
	for _, v := range series[len(series)-n:] {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// CrossOver a 在最后一根上穿 b
func CrossOver(a, b []float64) bool {
	if !Ready(a, 2) || !Ready(b, 2) {
		return false
	}
	n, m := len(a), len(b)
	return a[n-2] <= b[m-2] && a[n-1] > b[m-1]
}

// CrossUnder a 在最后一根下穿 b
func CrossUnder(a, b []float64) bool {
	if !Ready(a, 2) || !Ready(b, 2) {
		return false
	}
	n, m := len(a), len(b)
	return a[n-2] >= b[m-2] && a[n-1] < b[m-1]
}
