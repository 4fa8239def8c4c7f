package cache

import (
	"context"

	"meridian/backtest"
	"meridian/logger"
)

// RunFunc 执行一次回测
type RunFunc func() (*backtest.BacktestResult, error)

// GetOrRun 先查缓存，未命中时执行回测并写回缓存
// 缓存读写失败只记录警告，不影响回测本身
func GetOrRun(ctx context.Context, c ResultCache, key string, run RunFunc) (*backtest.BacktestResult, bool, error) {
	if c == nil {
		c = NewNopCache()
	}

	cached, ok, err := c.Get(ctx, key)
	if err != nil {
		logger.Warn("⚠️ 读取回测缓存失败: %v", err)
	} else if ok {
		logger.Debug("[缓存] 命中 %s", shortKey(key))
		return cached, true, nil
	}

	result, err := run()
	if err != nil {
		return nil, false, err
	}
	if err := c.Set(ctx, key, result); err != nil {
		logger.Warn("⚠️ 写入回测缓存失败: %v", err)
	}
	return result, false, nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
