package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
backtest:
  symbol: BTCUSDT
  data:
    path: bars.csv
strategy:
  name: sma_crossover
  params:
    fast: 5
    slow: 20
`

func createValidConfig() *Config {
	cfg := &Config{}
	cfg.Backtest.Symbol = "BTCUSDT"
	cfg.Backtest.InitialCapital = 10000
	cfg.Strategy.Name = "sma_crossover"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	// 测试有效配置
	cfg := createValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("有效配置验证失败: %v", err)
	}

	// 测试默认值设置
	if cfg.System.LogLevel != "INFO" || cfg.System.Timezone != "UTC" || cfg.System.LogLanguage != "en-US" {
		t.Errorf("系统默认值错误: %+v", cfg.System)
	}
	if cfg.Backtest.BarsPerYear != 252 || cfg.Sweep.Workers != 4 || cfg.Report.Dir != "backtest/reports" {
		t.Errorf("回测默认值错误: bars_per_year=%v workers=%d dir=%s",
			cfg.Backtest.BarsPerYear, cfg.Sweep.Workers, cfg.Report.Dir)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DSN != "./data/meridian.db" {
		t.Errorf("数据库默认值错误: %+v", cfg.Database)
	}
	if cfg.Cache.TTL() != 24*time.Hour || cfg.Cache.Prefix != "meridian:result:" {
		t.Errorf("缓存默认值错误: %+v", cfg.Cache)
	}
	if cfg.Web.Port != 8080 || cfg.Web.RateLimit != 5 || cfg.Web.Burst != 10 || cfg.Web.MaxBars != 200000 {
		t.Errorf("Web 默认值错误: %+v", cfg.Web)
	}
	if cfg.Strategy.Params == nil {
		t.Error("策略参数应初始化为空 map")
	}

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"缺少交易对", func(c *Config) { c.Backtest.Symbol = " " }},
		{"负数初始资金", func(c *Config) { c.Backtest.InitialCapital = -1 }},
		{"无效日志级别", func(c *Config) { c.System.LogLevel = "LOUD" }},
		{"无效时区", func(c *Config) { c.System.Timezone = "Mars/Olympus" }},
		{"无效数据格式", func(c *Config) { c.Backtest.Data.Format = "xlsx" }},
		{"无效数据库类型", func(c *Config) { c.Database.Type = "oracle" }},
		{"postgres 缺少 dsn", func(c *Config) { c.Database.Enabled = true; c.Database.Type = "postgres" }},
		{"无效缓存类型", func(c *Config) { c.Cache.Type = "memcached" }},
		{"无效端口", func(c *Config) { c.Web.Port = 70000 }},
		{"无效无风险利率", func(c *Config) { c.Backtest.RiskFreeRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createValidConfig()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("应该报错")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Backtest.Data.Path != filepath.Join(dir, "bars.csv") {
		t.Errorf("数据路径应相对于配置文件: %s", cfg.Backtest.Data.Path)
	}
	if cfg.Backtest.Data.Format != "csv" {
		t.Errorf("数据格式应按扩展名推断: %s", cfg.Backtest.Data.Format)
	}
	if cfg.Strategy.Params["fast"] != 5 {
		t.Errorf("策略参数解析错误: %v", cfg.Strategy.Params)
	}

	opts := cfg.RunOptions()
	if opts.Symbol != "BTCUSDT" || opts.InitialCapital != 10000 || opts.BarsPerYear != 252 {
		t.Errorf("RunOptions 转换错误: %+v", opts)
	}
	if cfg.ReportLanguage() != "en-US" {
		t.Errorf("报告语言应回退到 system.log_language: %s", cfg.ReportLanguage())
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("文件不存在应报错")
	}
	if _, err := LoadConfigFromBytes([]byte("backtest: [")); err == nil {
		t.Error("非法 YAML 应报错")
	}
}

func TestSaveConfig(t *testing.T) {
	cfg := createValidConfig()
	cfg.Sweep.Grid = map[string][]float64{"fast": {5, 10}}
	dir := t.TempDir()
	cfg.Backtest.Data.Dir = dir // 绝对路径不会被重新解析
	path := filepath.Join(dir, "saved.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("保存配置失败: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	if diff := DiffConfig(cfg, loaded); !diff.Empty() {
		t.Errorf("保存后重新加载应无差异: %v", diff.Paths())
	}

	bad := createValidConfig()
	bad.Backtest.Symbol = ""
	if err := SaveConfig(bad, path); err == nil {
		t.Error("无效配置不应保存")
	}
}

func TestConfigDiff(t *testing.T) {
	oldCfg := createValidConfig()
	oldCfg.Validate()
	oldCfg.Strategy.Params["fast"] = 10

	newCfg := createValidConfig()
	newCfg.Validate()
	newCfg.Strategy.Params["fast"] = 12
	newCfg.Strategy.Params["slow"] = 30
	newCfg.Web.Port = 9090

	diff := DiffConfig(oldCfg, newCfg)
	want := []string{"strategy.params.fast", "strategy.params.slow", "web.port"}
	got := diff.Paths()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("差异路径错误: got %v, want %v", got, want)
	}
	if diff.Changes[1].Type != ChangeTypeAdded || diff.Changes[0].Type != ChangeTypeModified {
		t.Errorf("变更类型错误: %+v", diff.Changes)
	}
	if !diff.RequiresRestart || !diff.AffectsResult {
		t.Errorf("web.port 需要重启，策略参数影响结果: %+v", diff)
	}
	if diff.Changes[0].RequiresRestart || !diff.Changes[2].RequiresRestart {
		t.Errorf("单项重启标记错误: %+v", diff.Changes)
	}

	if !DiffConfig(oldCfg, oldCfg).Empty() {
		t.Error("相同配置不应有差异")
	}
}

func TestHotReloader(t *testing.T) {
	initial := createValidConfig()
	initial.Validate()
	hr := NewHotReloader(initial)

	calls := 0
	hr.RegisterCallback(func(oldConfig, newConfig *Config, diff *ConfigDiff) error {
		calls++
		if oldConfig != initial {
			t.Error("回调应收到旧配置")
		}
		return nil
	})

	// 没有变化不触发回调
	same := createValidConfig()
	same.Validate()
	if _, err := hr.UpdateConfig(same); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("无变化时不应触发回调, got %d", calls)
	}

	changed := createValidConfig()
	changed.Backtest.InitialCapital = 20000
	changed.Validate()
	diff, err := hr.UpdateConfig(changed)
	if err != nil {
		t.Fatalf("热更新失败: %v", err)
	}
	if calls != 1 || !diff.AffectsResult || hr.GetCurrentConfig() != changed {
		t.Errorf("热更新结果错误: calls=%d diff=%+v", calls, diff)
	}
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	dataPath := filepath.Join(dir, "bars.csv")
	if err := os.WriteFile(dataPath, []byte("timestamp,open,high,low,close,volume\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	watcher, err := NewConfigWatcher(path, NewHotReloader(cfg))
	if err != nil {
		t.Fatalf("创建监控器失败: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("启动监控失败: %v", err)
	}
	defer watcher.Stop()
	if err := watcher.Start(ctx); err == nil {
		t.Error("重复启动应报错")
	}

	// 修改配置文件
	updated := strings.Replace(minimalYAML, "fast: 5", "fast: 8", 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(path, future, future)

	select {
	case u := <-watcher.Updates():
		if u.Config.Strategy.Params["fast"] != 8 || u.Diff == nil || !u.Diff.AffectsResult {
			t.Errorf("配置更新内容错误: %+v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("未收到配置更新")
	}

	// 修改数据文件
	future = future.Add(2 * time.Second)
	os.Chtimes(dataPath, future, future)
	select {
	case u := <-watcher.Updates():
		if !u.DataChanged || u.Config == nil {
			t.Errorf("数据更新内容错误: %+v", u)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("未收到数据更新")
	}
}
