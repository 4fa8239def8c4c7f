package backtest

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds 买入金额超过可用现金
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidSell 卖出数量超过持仓，或对无持仓的标的卖出
	ErrInvalidSell = errors.New("invalid sell")
	// ErrUnknownSymbol 信号标的不属于本次回放的K线序列
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrEmptyBars K线数据为空
	ErrEmptyBars = errors.New("bars data is empty")
	// ErrInvalidCapital 初始资金必须为正的有限数值
	ErrInvalidCapital = errors.New("initial capital must be positive")
)

// DataIntegrityError 输入数据错误（时间戳非递增、字段缺失或非有限数值）
// 属于致命错误：在任何账本变更之前终止回测
type DataIntegrityError struct {
	Index     int    // 出错K线的下标（CSV 数据行号从 0 开始）
	Timestamp int64  // 出错K线的时间戳（无法解析时为 0）
	Field     string // 出错字段
	Reason    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity error at bar %d (timestamp=%d, field=%s): %s",
		e.Index, e.Timestamp, e.Field, e.Reason)
}

// FillError 成交被账本拒绝（非致命）
type FillError struct {
	Fill Fill
	Err  error
}

func (e *FillError) Error() string {
	return fmt.Sprintf("%s %s x %v @ %v rejected: %v",
		e.Fill.Action, e.Fill.Symbol, e.Fill.Quantity, e.Fill.Price, e.Err)
}

func (e *FillError) Unwrap() error {
	return e.Err
}
