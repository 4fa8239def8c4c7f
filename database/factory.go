package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"meridian/config"
)

// NewDatabase 根据配置创建数据库实例
func NewDatabase(cfg config.DatabaseConfig) (Database, error) {
	dbConfig := &DBConfig{
		Type:            cfg.Type,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
		LogLevel:        cfg.LogLevel,
	}

	switch cfg.Type {
	case "sqlite":
		// SQLite 文件所在目录不存在时自动创建
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." && cfg.DSN != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		return NewGormDatabase(dbConfig)
	case "postgres", "postgresql", "mysql":
		return NewGormDatabase(dbConfig)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
