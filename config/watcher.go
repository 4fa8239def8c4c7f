package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"meridian/logger"
)

// Update 一次配置或数据变化
type Update struct {
	Config      *Config
	Diff        *ConfigDiff
	DataChanged bool // K线数据文件发生变化
}

// ConfigWatcher 配置文件监控器
// 同时监控配置文件和它引用的K线数据文件，变化时重新加载、验证并通过 Updates() 发出
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	hotReloader *HotReloader
	debounce    time.Duration

	mu         sync.Mutex
	isWatching bool
	dataPath   string
	modTimes   map[string]time.Time
	updateChan chan Update
	errorChan  chan error
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, hotReloader *HotReloader) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	cw := &ConfigWatcher{
		configPath:  absPath,
		watcher:     watcher,
		hotReloader: hotReloader,
		debounce:    100 * time.Millisecond,
		modTimes:    make(map[string]time.Time),
		updateChan:  make(chan Update, 1),
		errorChan:   make(chan error, 10),
	}
	cw.recordModTime(absPath)
	if cfg := hotReloader.GetCurrentConfig(); cfg != nil {
		cw.setDataPath(cfg.Backtest.Data.Path)
	}
	return cw, nil
}

// setDataPath 调用方需持有 mu 或在启动前调用
func (cw *ConfigWatcher) setDataPath(path string) {
	if path == "" {
		cw.dataPath = ""
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	cw.dataPath = path
	cw.recordModTime(path)
}

func (cw *ConfigWatcher) recordModTime(path string) {
	if info, err := os.Stat(path); err == nil {
		cw.modTimes[path] = info.ModTime()
	}
}

// changed 文件修改时间是否晚于上次记录
func (cw *ConfigWatcher) changed(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	last, ok := cw.modTimes[path]
	if ok && !info.ModTime().After(last) {
		return false
	}
	cw.modTimes[path] = info.ModTime()
	return true
}

// Start 开始监控
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	dirs := map[string]bool{filepath.Dir(cw.configPath): true}
	if cw.dataPath != "" {
		dirs[filepath.Dir(cw.dataPath)] = true
	}
	for dir := range dirs {
		if err := cw.watcher.Add(dir); err != nil {
			return fmt.Errorf("添加监控目录失败: %w", err)
		}
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)
	logger.Info("👀 开始监控配置文件: %s", cw.configPath)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

// watchLoop 监控循环
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second) // 定期检查修改时间（备用机制）
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if cw.isTarget(event.Name) {
				// 延迟处理，避免文件正在写入时读取
				time.Sleep(cw.debounce)
				cw.check()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)

		case <-ticker.C:
			cw.check()
		}
	}
}

func (cw *ConfigWatcher) isTarget(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return abs == cw.configPath || (cw.dataPath != "" && abs == cw.dataPath)
}

// check 检查配置文件和数据文件，有变化时发出 Update
func (cw *ConfigWatcher) check() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	update := Update{}
	if cw.changed(cw.configPath) {
		newConfig, err := LoadConfig(cw.configPath)
		if err != nil {
			cw.reportError(fmt.Errorf("重新加载配置失败: %w", err))
			return
		}
		diff, err := cw.hotReloader.UpdateConfig(newConfig)
		if err != nil {
			cw.reportError(err)
			return
		}
		if !diff.Empty() {
			update.Config = newConfig
			update.Diff = diff
			if newConfig.Backtest.Data.Path != cw.dataPath {
				cw.setDataPath(newConfig.Backtest.Data.Path)
				if cw.dataPath != "" {
					if err := cw.watcher.Add(filepath.Dir(cw.dataPath)); err != nil {
						cw.reportError(fmt.Errorf("添加监控目录失败: %w", err))
					}
				}
			}
		}
	}
	if cw.dataPath != "" && cw.changed(cw.dataPath) {
		update.DataChanged = true
	}

	if update.Config == nil && !update.DataChanged {
		return
	}
	if update.Config == nil {
		update.Config = cw.hotReloader.GetCurrentConfig()
	}
	logger.Info("🔄 检测到变化: 配置=%v, 数据=%v", update.Diff != nil, update.DataChanged)

	// 只保留最新的一次更新
	select {
	case <-cw.updateChan:
	default:
	}
	cw.updateChan <- update
}

func (cw *ConfigWatcher) reportError(err error) {
	logger.Warn("⚠️ 配置监控: %v", err)
	select {
	case cw.errorChan <- err:
	default:
	}
}

// Updates 配置/数据更新通道
func (cw *ConfigWatcher) Updates() <-chan Update {
	return cw.updateChan
}

// Errors 错误通道
func (cw *ConfigWatcher) Errors() <-chan error {
	return cw.errorChan
}
