package config

import (
	"fmt"
	"sync"

	"meridian/logger"
)

// ConfigUpdateCallback 配置更新回调函数类型
type ConfigUpdateCallback func(oldConfig, newConfig *Config, diff *ConfigDiff) error

// HotReloader 配置热更新器
// 保存当前生效的配置，新配置到来时计算差异并依次触发回调
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 应用新配置
// 没有变更时不触发回调；回调失败时保留旧配置
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	if diff.Empty() {
		return diff, nil
	}

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, newConfig, diff); err != nil {
			return diff, fmt.Errorf("配置更新回调执行失败: %w", err)
		}
	}

	if diff.RequiresRestart {
		logger.Warn("⚠️ 以下配置需要重启后生效: %v", diff.Paths())
	}
	hr.currentConfig = newConfig
	return diff, nil
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}
