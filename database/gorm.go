package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meridian/backtest"
	"meridian/utils"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// DBConfig 数据库配置
type DBConfig struct {
	Type            string        // sqlite, postgres, mysql
	DSN             string        // 数据源名称
	MaxOpenConns    int           // 最大打开连接数
	MaxIdleConns    int           // 最大空闲连接数
	ConnMaxLifetime time.Duration // 连接最大生命周期
	LogLevel        string        // 日志级别: silent, error, warn, info
}

// 批量写入的分批大小
const batchSize = 500

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *DBConfig) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	// 打开数据库
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&BacktestRun{},
		&TradeRecord{},
		&EquityRecord{},
		&RejectionRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveRun 在一个事务中保存回测汇总、平仓记录、权益曲线和被拒绝的信号
// 相同 ID 的旧记录会被替换
func (g *GormDatabase) SaveRun(ctx context.Context, result *backtest.BacktestResult, fingerprint string) error {
	if result == nil || result.ID == "" {
		return errors.New("result id is required")
	}

	run, err := toRunRecord(result, fingerprint)
	if err != nil {
		return err
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteRun(tx, result.ID); err != nil {
			return err
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("保存回测记录失败: %w", err)
		}

		if len(result.Trades) > 0 {
			trades := make([]*TradeRecord, len(result.Trades))
			for i, t := range result.Trades {
				trades[i] = &TradeRecord{
					RunID:      result.ID,
					Seq:        i,
					Symbol:     t.Symbol,
					Side:       string(t.Side),
					EntryPrice: t.EntryPrice,
					ExitPrice:  t.ExitPrice,
					Quantity:   t.Quantity,
					EntryTime:  t.EntryTime,
					ExitTime:   t.ExitTime,
					PnL:        t.PnL,
				}
			}
			if err := tx.CreateInBatches(trades, batchSize).Error; err != nil {
				return fmt.Errorf("保存平仓记录失败: %w", err)
			}
		}

		if len(result.Equity) > 0 {
			points := make([]*EquityRecord, len(result.Equity))
			for i, p := range result.Equity {
				points[i] = &EquityRecord{RunID: result.ID, Seq: i, Timestamp: p.Timestamp, Equity: p.Equity}
			}
			if err := tx.CreateInBatches(points, batchSize).Error; err != nil {
				return fmt.Errorf("保存权益曲线失败: %w", err)
			}
		}

		if len(result.Rejected) > 0 {
			rejections := make([]*RejectionRecord, len(result.Rejected))
			for i, r := range result.Rejected {
				rejections[i] = &RejectionRecord{
					RunID:     result.ID,
					Seq:       i,
					BarIndex:  r.Index,
					Timestamp: r.Timestamp,
					Action:    string(r.Signal.Action),
					Symbol:    r.Signal.Symbol,
					Quantity:  r.Signal.Quantity,
					Reason:    r.Reason,
				}
			}
			if err := tx.CreateInBatches(rejections, batchSize).Error; err != nil {
				return fmt.Errorf("保存拒绝记录失败: %w", err)
			}
		}
		return nil
	})
}

func deleteRun(tx *gorm.DB, id string) error {
	for _, model := range []interface{}{&TradeRecord{}, &EquityRecord{}, &RejectionRecord{}} {
		if err := tx.Where("run_id = ?", id).Delete(model).Error; err != nil {
			return fmt.Errorf("删除旧记录失败: %w", err)
		}
	}
	if err := tx.Where("id = ?", id).Delete(&BacktestRun{}).Error; err != nil {
		return fmt.Errorf("删除旧记录失败: %w", err)
	}
	return nil
}

func toRunRecord(result *backtest.BacktestResult, fingerprint string) (*BacktestRun, error) {
	params, err := json.Marshal(result.Params)
	if err != nil {
		return nil, fmt.Errorf("序列化策略参数失败: %w", err)
	}
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return nil, fmt.Errorf("序列化指标失败: %w", err)
	}
	risk, err := json.Marshal(result.RiskMetrics)
	if err != nil {
		return nil, fmt.Errorf("序列化风险指标失败: %w", err)
	}
	positions, err := json.Marshal(result.OpenPositions)
	if err != nil {
		return nil, fmt.Errorf("序列化持仓失败: %w", err)
	}

	m := result.Metrics
	return &BacktestRun{
		ID:               result.ID,
		Fingerprint:      fingerprint,
		Symbol:           result.Symbol,
		Strategy:         result.Strategy,
		Bars:             len(result.Equity),
		StartTime:        result.StartTime,
		EndTime:          result.EndTime,
		InitialCapital:   result.InitialCapital,
		FinalEquity:      result.FinalEquity,
		FinalCash:        result.FinalCash,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		MaxDrawdown:      m.MaxDrawdown,
		SharpeRatio:      m.SharpeRatio,
		WinRate:          m.WinRate,
		TotalTrades:      m.TotalTrades,
		RejectedSignals:  m.RejectedSignals,
		ParamsJSON:       string(params),
		MetricsJSON:      string(metrics),
		RiskJSON:         string(risk),
		PositionsJSON:    string(positions),
	}, nil
}

// GetRun 读取完整回测结果
func (g *GormDatabase) GetRun(ctx context.Context, id string) (*backtest.BacktestResult, error) {
	db := g.db.WithContext(ctx)

	var run BacktestRun
	if err := db.Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil, err
	}

	result := &backtest.BacktestResult{
		ID:             run.ID,
		Symbol:         run.Symbol,
		Strategy:       run.Strategy,
		StartTime:      run.StartTime,
		EndTime:        run.EndTime,
		InitialCapital: run.InitialCapital,
		FinalEquity:    run.FinalEquity,
		FinalCash:      run.FinalCash,
		Equity:         []backtest.EquityPoint{},
		Trades:         []backtest.Trade{},
		OpenPositions:  []backtest.Position{},
		Rejected:       []backtest.RejectedSignal{},
	}
	if err := unmarshalColumns(&run, result); err != nil {
		return nil, err
	}

	var trades []*TradeRecord
	if err := db.Where("run_id = ?", id).Order("seq").Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		result.Trades = append(result.Trades, backtest.Trade{
			Symbol:     t.Symbol,
			Side:       utils.Side(t.Side),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			EntryTime:  t.EntryTime,
			ExitTime:   t.ExitTime,
			PnL:        t.PnL,
		})
	}

	var points []*EquityRecord
	if err := db.Where("run_id = ?", id).Order("seq").Find(&points).Error; err != nil {
		return nil, err
	}
	for _, p := range points {
		result.Equity = append(result.Equity, backtest.EquityPoint{Timestamp: p.Timestamp, Equity: p.Equity})
	}

	var rejections []*RejectionRecord
	if err := db.Where("run_id = ?", id).Order("seq").Find(&rejections).Error; err != nil {
		return nil, err
	}
	for _, r := range rejections {
		result.Rejected = append(result.Rejected, backtest.RejectedSignal{
			Index:     r.BarIndex,
			Timestamp: r.Timestamp,
			Signal: backtest.Signal{
				Action:   backtest.Action(r.Action),
				Symbol:   r.Symbol,
				Quantity: r.Quantity,
			},
			Reason: r.Reason,
		})
	}

	return result, nil
}

func unmarshalColumns(run *BacktestRun, result *backtest.BacktestResult) error {
	columns := []struct {
		name string
		data string
		dst  interface{}
	}{
		{"params", run.ParamsJSON, &result.Params},
		{"metrics", run.MetricsJSON, &result.Metrics},
		{"risk", run.RiskJSON, &result.RiskMetrics},
		{"positions", run.PositionsJSON, &result.OpenPositions},
	}
	for _, c := range columns {
		if c.data == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.data), c.dst); err != nil {
			return fmt.Errorf("解析 %s 失败: %w", c.name, err)
		}
	}
	if result.OpenPositions == nil {
		result.OpenPositions = []backtest.Position{}
	}
	return nil
}

// ListRuns 获取回测汇总记录（按创建时间倒序）
func (g *GormDatabase) ListRuns(ctx context.Context, filter *RunFilter) ([]*BacktestRun, error) {
	query := g.db.WithContext(ctx).Model(&BacktestRun{})

	if filter == nil {
		filter = &RunFilter{}
	}
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Strategy != "" {
		query = query.Where("strategy = ?", filter.Strategy)
	}

	query = query.Order("created_at DESC").Order("id")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var runs []*BacktestRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// DeleteRun 删除回测记录
func (g *GormDatabase) DeleteRun(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&BacktestRun{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return deleteRun(tx, id)
	})
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
