package backtest

// Fill 信号对应的成交
type Fill struct {
	Index     int     `json:"index"`
	Timestamp int64   `json:"timestamp"`
	Action    Action  `json:"action"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
}

// FillResolver 把信号转换为成交
//
// 成交价固定为当前K线收盘价：不考虑滑点、手续费和K线内部价格路径。
// 非法信号（动作为空、标的为空、数量 <= 0 或非有限数值）被静默丢弃，不计入拒绝。
type FillResolver struct{}

// Resolve 返回成交以及信号是否有效
func (FillResolver) Resolve(sig Signal, bar Bar, index int) (Fill, bool) {
	if sig.IsNone() || !sig.valid() {
		return Fill{}, false
	}
	return Fill{
		Index:     index,
		Timestamp: bar.Timestamp,
		Action:    sig.Action,
		Symbol:    sig.Symbol,
		Price:     bar.Close,
		Quantity:  sig.Quantity,
	}, true
}
