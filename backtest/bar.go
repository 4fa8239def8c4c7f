package backtest

import (
	"encoding/json"
	"math"
)

// Bar K线（OHLCV）
type Bar struct {
	Timestamp int64   `json:"timestamp"` // 毫秒时间戳
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// barJSON 解码用：指针字段区分缺失与 0
type barJSON struct {
	Timestamp *int64   `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *float64 `json:"volume"`
}

// UnmarshalJSON 缺少任一 OHLCV 字段时返回 *DataIntegrityError（下标未知时为 -1）
func (b *Bar) UnmarshalJSON(data []byte) error {
	bar, err := decodeBarJSON(data, -1)
	if err != nil {
		return err
	}
	*b = bar
	return nil
}

func decodeBarJSON(data []byte, index int) (Bar, error) {
	var raw barJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Bar{}, &DataIntegrityError{Index: index, Field: "bar", Reason: err.Error()}
	}
	if raw.Timestamp == nil {
		return Bar{}, &DataIntegrityError{Index: index, Field: "timestamp", Reason: "missing field"}
	}
	fields := [...]struct {
		name  string
		value *float64
	}{
		{"open", raw.Open},
		{"high", raw.High},
		{"low", raw.Low},
		{"close", raw.Close},
		{"volume", raw.Volume},
	}
	for _, f := range fields {
		if f.value == nil {
			return Bar{}, &DataIntegrityError{Index: index, Timestamp: *raw.Timestamp, Field: f.name, Reason: "missing field"}
		}
	}
	return Bar{
		Timestamp: *raw.Timestamp,
		Open:      *raw.Open,
		High:      *raw.High,
		Low:       *raw.Low,
		Close:     *raw.Close,
		Volume:    *raw.Volume,
	}, nil
}

// BarSeries JSON 中的K线数组，解码错误带有出错K线的下标
type BarSeries []Bar

// UnmarshalJSON 逐根解码
func (s *BarSeries) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	if items == nil {
		*s = nil
		return nil
	}
	bars := make([]Bar, len(items))
	for i, item := range items {
		bar, err := decodeBarJSON(item, i)
		if err != nil {
			return err
		}
		bars[i] = bar
	}
	*s = bars
	return nil
}

// ValidateBars 校验K线序列：时间戳严格递增，所有价格与成交量为有限数值
// 返回的错误为 *DataIntegrityError，指出第一根有问题的K线
func ValidateBars(bars []Bar) error {
	for i, bar := range bars {
		fields := [...]struct {
			name  string
			value float64
		}{
			{"open", bar.Open},
			{"high", bar.High},
			{"low", bar.Low},
			{"close", bar.Close},
			{"volume", bar.Volume},
		}
		for _, f := range fields {
			if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
				return &DataIntegrityError{
					Index:     i,
					Timestamp: bar.Timestamp,
					Field:     f.name,
					Reason:    "value is not finite",
				}
			}
		}
		if i > 0 && bar.Timestamp <= bars[i-1].Timestamp {
			return &DataIntegrityError{
				Index:     i,
				Timestamp: bar.Timestamp,
				Field:     "timestamp",
				Reason:    "timestamp is not strictly increasing",
			}
		}
	}
	return nil
}

// BarView 只读的K线前缀视图
// 回放到第 i 根K线时，视图只包含 [0..i]，策略无法访问未来数据，也无法修改历史
type BarView struct {
	bars []Bar
}

// prefixView 回放专用：共享底层数组，容量截断到 i+1
func prefixView(bars []Bar, i int) BarView {
	return BarView{bars: bars[: i+1 : i+1]}
}

// Len K线数量
func (v BarView) Len() int {
	return len(v.bars)
}

// At 返回第 i 根K线的副本
func (v BarView) At(i int) Bar {
	return v.bars[i]
}

// Last 返回最后一根K线，视图为空时返回零值
func (v BarView) Last() Bar {
	if len(v.bars) == 0 {
		return Bar{}
	}
	return v.bars[len(v.bars)-1]
}

// Tail 最后 n 根K线的视图，n 超过长度时返回整个视图
func (v BarView) Tail(n int) BarView {
	if n < 0 {
		n = 0
	}
	if n >= len(v.bars) {
		return v
	}
	start := len(v.bars) - n
	return BarView{bars: v.bars[start:len(v.bars):len(v.bars)]}
}

// Closes 收盘价序列（新分配的切片）
func (v BarView) Closes() []float64 {
	return v.series(func(b Bar) float64 { return b.Close })
}

func (v BarView) series(pick func(Bar) float64) []float64 {
	out := make([]float64, len(v.bars))
	for i, b := range v.bars {
		out[i] = pick(b)
	}
	return out
}
