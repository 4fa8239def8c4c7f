package indicators

// ========== 成交量指标 ==========

// OBV 能量潮，第一根为 0
func OBV(close, volume []float64) []float64 {
	n := minLen(close, volume)
	result := make([]float64, n)
	for i := 1; i < n; i++ {
		switch {
		case close[i] > close[i-1]:
			result[i] = result[i-1] + volume[i]
		case close[i] < close[i-1]:
			result[i] = result[i-1] - volume[i]
		default:
			result[i] = result[i-1]
		}
	}
	return result
}

// VWAP 滚动成交量加权均价（典型价格），窗口成交量为 0 时为 NaN
func VWAP(high, low, close, volume []float64, period int) []float64 {
	n := minLen(high, low, close, volume)
	result := nanSeries(n)
	if period <= 0 {
		return result
	}
	for i := period - 1; i < n; i++ {
		pv, vol := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			typical := (high[j] + low[j] + close[j]) / 3
			pv += typical * volume[j]
			vol += volume[j]
		}
		if vol > 0 {
			result[i] = pv / vol
		}
	}
	return result
}
