package indicators

// ========== 趋势指标 ==========

// MACDResult MACD 三条线
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD 指数平滑异同移动平均线（常用参数 12, 26, 9）
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)

	line := make([]float64, len(values))
	for i := range values {
		line[i] = fast[i] - slow[i] // 任一侧为 NaN 时结果为 NaN
	}

	signal := EMA(line, signalPeriod)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - signal[i]
	}
	return MACDResult{MACD: line, Signal: signal, Histogram: hist}
}
