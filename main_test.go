package main

import (
	"testing"

	"meridian/config"
)

func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfigFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func TestApplyUpdate(t *testing.T) {
	base := loadTestConfig(t, "backtest:\n  symbol: BTCUSDT\n")
	a := &app{cfg: base}

	// 只修改报告目录：不重新回测，但后续回测使用新配置
	reportOnly := loadTestConfig(t, "backtest:\n  symbol: BTCUSDT\nreport:\n  dir: /tmp/meridian-reports\n")
	diff := config.DiffConfig(base, reportOnly)
	if diff.Empty() || diff.AffectsResult {
		t.Fatalf("报告目录变更不应影响结果: %+v", diff)
	}
	if a.applyUpdate(config.Update{Config: reportOnly, Diff: diff}) {
		t.Error("不影响结果的变更不应触发回测")
	}
	if a.cfg != reportOnly {
		t.Error("不影响结果的变更也应替换当前配置")
	}

	// 修改策略参数：重新回测
	withParams := loadTestConfig(t, "backtest:\n  symbol: BTCUSDT\nreport:\n  dir: /tmp/meridian-reports\nstrategy:\n  params:\n    fast: 5\n")
	if !a.applyUpdate(config.Update{Config: withParams, Diff: config.DiffConfig(reportOnly, withParams)}) {
		t.Error("策略参数变更应触发回测")
	}
	if a.cfg != withParams {
		t.Error("应使用最新配置")
	}

	// 只有数据变化
	if !a.applyUpdate(config.Update{Config: withParams, DataChanged: true}) {
		t.Error("数据变化应触发回测")
	}
}
