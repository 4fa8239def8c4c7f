package database

import (
	"context"
	"errors"
	"time"

	"meridian/backtest"
)

// ErrRunNotFound 回测记录不存在
var ErrRunNotFound = errors.New("backtest run not found")

// Database 回测结果持久化接口
type Database interface {
	// 回测记录
	SaveRun(ctx context.Context, result *backtest.BacktestResult, fingerprint string) error
	GetRun(ctx context.Context, id string) (*backtest.BacktestResult, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, error)
	DeleteRun(ctx context.Context, id string) error

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 数据模型

// BacktestRun 回测汇总记录
// 常用指标单独成列便于查询排序，完整指标以 JSON 保存
type BacktestRun struct {
	ID               string    `gorm:"primaryKey;size:64" json:"id"`
	Fingerprint      string    `gorm:"index;size:64" json:"fingerprint"`
	Symbol           string    `gorm:"index:idx_symbol_strategy;size:50" json:"symbol"`
	Strategy         string    `gorm:"index:idx_symbol_strategy;size:100" json:"strategy"`
	Bars             int       `json:"bars"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	InitialCapital   float64   `json:"initial_capital"`
	FinalEquity      float64   `json:"final_equity"`
	FinalCash        float64   `json:"final_cash"`
	TotalReturn      float64   `json:"total_return"`
	AnnualizedReturn float64   `json:"annualized_return"`
	MaxDrawdown      float64   `json:"max_drawdown"`
	SharpeRatio      float64   `json:"sharpe_ratio"`
	WinRate          float64   `json:"win_rate"`
	TotalTrades      int       `json:"total_trades"`
	RejectedSignals  int       `json:"rejected_signals"`
	ParamsJSON       string    `gorm:"type:text" json:"-"`
	MetricsJSON      string    `gorm:"type:text" json:"-"`
	RiskJSON         string    `gorm:"type:text" json:"-"`
	PositionsJSON    string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TradeRecord 平仓记录
type TradeRecord struct {
	ID         int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID      string  `gorm:"index:idx_trade_run_seq;size:64" json:"run_id"`
	Seq        int     `gorm:"index:idx_trade_run_seq" json:"seq"`
	Symbol     string  `gorm:"size:50" json:"symbol"`
	Side       string  `gorm:"size:10" json:"side"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Quantity   float64 `json:"quantity"`
	EntryTime  int64   `json:"entry_time"`
	ExitTime   int64   `json:"exit_time"`
	PnL        float64 `json:"pnl"`
}

// EquityRecord 权益曲线点
type EquityRecord struct {
	ID        int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string  `gorm:"index:idx_equity_run_seq;size:64" json:"run_id"`
	Seq       int     `gorm:"index:idx_equity_run_seq" json:"seq"`
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// RejectionRecord 被拒绝的信号
type RejectionRecord struct {
	ID        int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID     string  `gorm:"index:idx_reject_run_seq;size:64" json:"run_id"`
	Seq       int     `gorm:"index:idx_reject_run_seq" json:"seq"`
	BarIndex  int     `json:"bar_index"`
	Timestamp int64   `json:"timestamp"`
	Action    string  `gorm:"size:10" json:"action"`
	Symbol    string  `gorm:"size:50" json:"symbol"`
	Quantity  float64 `json:"quantity"`
	Reason    string  `gorm:"type:text" json:"reason"`
}

// 过滤器

// RunFilter 回测记录过滤器
type RunFilter struct {
	Symbol   string
	Strategy string
	Limit    int
	Offset   int
}
