package utils

import (
	"sync"
	"time"
)

var (
	globalLocation = time.UTC
	locationMu     sync.RWMutex
)

// SetLocation 设置报告展示使用的时区，加载失败时保留原时区
func SetLocation(name string) error {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == "UTC+8" {
			loc = time.FixedZone("UTC+8", 8*60*60)
		} else {
			return err
		}
	}
	locationMu.Lock()
	globalLocation = loc
	locationMu.Unlock()
	return nil
}

// Location 返回当前配置的时区
func Location() *time.Location {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return globalLocation
}

// ToConfiguredTimezone 将时间转换为配置的时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(Location())
}

// FromUnixMilli 毫秒时间戳转为配置时区的时间
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).In(Location())
}

// FormatMillis 以配置时区格式化毫秒时间戳
func FormatMillis(ms int64, layout string) string {
	return FromUnixMilli(ms).Format(layout)
}

// ToUTC 将时间转换为UTC时间
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}
