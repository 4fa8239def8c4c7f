package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"meridian/backtest"
)

// DataConfig K线数据源
type DataConfig struct {
	Path   string `yaml:"path" json:"path"`     // CSV / Parquet 文件路径
	Format string `yaml:"format" json:"format"` // csv 或 parquet，为空时按扩展名推断
	Dir    string `yaml:"dir" json:"dir"`       // 数据集目录（Web 服务按名称加载）
}

// DatabaseConfig 回测结果持久化配置
type DatabaseConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Type            string `yaml:"type" json:"type"`                           // 数据库类型: sqlite, postgres, mysql，默认 sqlite
	DSN             string `yaml:"dsn" json:"dsn"`                             // 数据源名称，默认 ./data/meridian.db
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`       // 最大打开连接数，默认10
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`       // 最大空闲连接数，默认5
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
	LogLevel        string `yaml:"log_level" json:"log_level"`                 // 日志级别: silent, error, warn, info，默认 error
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

// CacheConfig 回测结果缓存配置
type CacheConfig struct {
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	Type       string      `yaml:"type" json:"type"`               // redis, memory, none，默认 redis
	TTLSeconds int         `yaml:"ttl_seconds" json:"ttl_seconds"` // 默认 86400
	Prefix     string      `yaml:"prefix" json:"prefix"`           // 默认 "meridian:result:"
	Redis      RedisConfig `yaml:"redis" json:"redis"`
}

// TTL 缓存过期时间
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Config 回测系统配置
type Config struct {
	System struct {
		LogLevel    string `yaml:"log_level" json:"log_level"`
		Timezone    string `yaml:"timezone" json:"timezone"`         // 时区，如 "Asia/Shanghai"
		LogLanguage string `yaml:"log_language" json:"log_language"` // 报告语言，如 "zh-CN" 或 "en-US"
	} `yaml:"system" json:"system"`

	Backtest struct {
		Symbol         string     `yaml:"symbol" json:"symbol"`
		InitialCapital float64    `yaml:"initial_capital" json:"initial_capital"` // 默认 10000
		BarsPerYear    float64    `yaml:"bars_per_year" json:"bars_per_year"`     // 默认 252（日线）
		RiskFreeRate   float64    `yaml:"risk_free_rate" json:"risk_free_rate"`   // 年化无风险利率（小数）
		LiquidateAtEnd bool       `yaml:"liquidate_at_end" json:"liquidate_at_end"`
		Data           DataConfig `yaml:"data" json:"data"`
	} `yaml:"backtest" json:"backtest"`

	Strategy struct {
		Name   string             `yaml:"name" json:"name"` // 默认 sma_crossover
		Params map[string]float64 `yaml:"params" json:"params"`
	} `yaml:"strategy" json:"strategy"`

	Sweep struct {
		Workers int                  `yaml:"workers" json:"workers"` // 默认 4
		Grid    map[string][]float64 `yaml:"grid" json:"grid"`
	} `yaml:"sweep" json:"sweep"`

	Report struct {
		Enabled  bool   `yaml:"enabled" json:"enabled"`
		Dir      string `yaml:"dir" json:"dir"`           // 默认 backtest/reports
		Language string `yaml:"language" json:"language"` // 为空时使用 system.log_language
	} `yaml:"report" json:"report"`

	Database DatabaseConfig `yaml:"database" json:"database"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	Web struct {
		Host      string  `yaml:"host" json:"host"`             // 监听地址（默认 0.0.0.0）
		Port      int     `yaml:"port" json:"port"`             // 监听端口（默认 8080）
		RateLimit float64 `yaml:"rate_limit" json:"rate_limit"` // 每秒回测请求数（默认 5）
		Burst     int     `yaml:"burst" json:"burst"`           // 突发请求数（默认 10）
		MaxBars   int     `yaml:"max_bars" json:"max_bars"`     // 单次请求最多K线数（默认 200000）
	} `yaml:"web" json:"web"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := LoadConfigFromBytes(data)
	if err != nil {
		return nil, err
	}

	// 数据路径相对于配置文件所在目录
	cfg.resolvePaths(filepath.Dir(configPath))
	return cfg, nil
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	// 验证配置
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	// 序列化为YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// 写入文件
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

func (c *Config) resolvePaths(base string) {
	if base == "" || base == "." {
		return
	}
	if p := c.Backtest.Data.Path; p != "" && !filepath.IsAbs(p) {
		c.Backtest.Data.Path = filepath.Join(base, p)
	}
	if d := c.Backtest.Data.Dir; d != "" && !filepath.IsAbs(d) {
		c.Backtest.Data.Dir = filepath.Join(base, d)
	}
}

// RunOptions 转换为回测运行参数
func (c *Config) RunOptions() backtest.RunOptions {
	return backtest.RunOptions{
		Symbol:         c.Backtest.Symbol,
		InitialCapital: c.Backtest.InitialCapital,
		BarsPerYear:    c.Backtest.BarsPerYear,
		RiskFreeRate:   c.Backtest.RiskFreeRate,
		LiquidateAtEnd: c.Backtest.LiquidateAtEnd,
	}
}

// ReportLanguage 报告语言
func (c *Config) ReportLanguage() string {
	if c.Report.Language != "" {
		return c.Report.Language
	}
	return c.System.LogLanguage
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	// 系统配置
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
	default:
		return fmt.Errorf("无效的日志级别: %s", c.System.LogLevel)
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		return fmt.Errorf("无效的时区 %s: %w", c.System.Timezone, err)
	}
	if c.System.LogLanguage == "" {
		c.System.LogLanguage = "en-US"
	}

	// 回测配置
	if strings.TrimSpace(c.Backtest.Symbol) == "" {
		return fmt.Errorf("必须指定交易对 (backtest.symbol)")
	}
	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 10000
	}
	if !(c.Backtest.InitialCapital > 0) || math.IsInf(c.Backtest.InitialCapital, 0) {
		return fmt.Errorf("初始资金必须大于0 (backtest.initial_capital)")
	}
	if c.Backtest.BarsPerYear == 0 {
		c.Backtest.BarsPerYear = 252
	}
	if c.Backtest.BarsPerYear < 0 {
		return fmt.Errorf("年化周期数必须大于0 (backtest.bars_per_year)")
	}
	if c.Backtest.RiskFreeRate < 0 || c.Backtest.RiskFreeRate >= 1 {
		return fmt.Errorf("无风险利率必须在 [0, 1) 之间 (backtest.risk_free_rate)")
	}
	switch c.Backtest.Data.Format {
	case "":
		if c.Backtest.Data.Path != "" {
			c.Backtest.Data.Format = backtest.DetectFormat(c.Backtest.Data.Path)
		}
	case backtest.FormatCSV, backtest.FormatParquet:
	default:
		return fmt.Errorf("不支持的数据格式: %s (backtest.data.format)", c.Backtest.Data.Format)
	}
	if c.Backtest.Data.Dir == "" {
		c.Backtest.Data.Dir = "./data"
	}

	// 策略配置
	if c.Strategy.Name == "" {
		c.Strategy.Name = "sma_crossover"
	}
	if c.Strategy.Params == nil {
		c.Strategy.Params = make(map[string]float64)
	}

	// 参数扫描
	if c.Sweep.Workers <= 0 {
		c.Sweep.Workers = 4
	}

	// 报告
	if c.Report.Dir == "" {
		c.Report.Dir = "backtest/reports"
	}

	// 数据库配置默认值
	if c.Database.Type == "" {
		c.Database.Type = "sqlite" // 默认 SQLite（单机模式）
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.DSN == "" {
		if c.Database.Type == "sqlite" {
			c.Database.DSN = "./data/meridian.db" // 默认 SQLite 路径
		} else if c.Database.Enabled {
			return fmt.Errorf("数据库 %s 必须配置 dsn", c.Database.Type)
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600 // 默认1小时
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error" // 默认只记录错误
	}

	// 缓存配置默认值
	if c.Cache.Type == "" {
		c.Cache.Type = "redis"
	}
	switch c.Cache.Type {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf("不支持的缓存类型: %s", c.Cache.Type)
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 86400
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "meridian:result:"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.PoolSize <= 0 {
		c.Cache.Redis.PoolSize = 10
	}

	// Web 服务
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("无效的端口: %d", c.Web.Port)
	}
	if c.Web.RateLimit <= 0 {
		c.Web.RateLimit = 5
	}
	if c.Web.Burst <= 0 {
		c.Web.Burst = 10
	}
	if c.Web.MaxBars <= 0 {
		c.Web.MaxBars = 200000
	}

	return nil
}
