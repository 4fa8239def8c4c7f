package i18n

import (
	"embed"
	"fmt"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"meridian/logger"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// SupportedLanguages 内置翻译
var SupportedLanguages = []string{"en-US", "zh-CN"}

const defaultLang = "en-US"

var (
	bundle         *i18n.Bundle
	mu             sync.RWMutex
	systemLanguage = defaultLang
)

// Init 初始化 i18n 系统并设置默认语言
func Init(lang string) error {
	mu.Lock()
	defer mu.Unlock()

	if lang == "" {
		lang = defaultLang
	}
	if _, err := language.Parse(lang); err != nil {
		return fmt.Errorf("invalid language %q: %w", lang, err)
	}
	systemLanguage = lang

	if bundle != nil {
		return nil
	}
	return loadBundleLocked()
}

// loadBundleLocked 加载内置翻译文件，调用前必须持有 mu
func loadBundleLocked() error {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	for _, l := range SupportedLanguages {
		filename := fmt.Sprintf("locales/%s.yaml", l)
		if _, err := b.LoadMessageFileFS(localeFS, filename); err != nil {
			return fmt.Errorf("load translation file %s: %w", filename, err)
		}
	}
	bundle = b
	return nil
}

// ensureBundle 未调用 Init 时按默认语言懒加载
func ensureBundle() *i18n.Bundle {
	mu.RLock()
	b := bundle
	mu.RUnlock()
	if b != nil {
		return b
	}

	mu.Lock()
	defer mu.Unlock()
	if bundle == nil {
		if err := loadBundleLocked(); err != nil {
			logger.Warn("⚠️ 加载翻译文件失败: %v", err)
			return nil
		}
	}
	return bundle
}

// GetLocalizer 获取指定语言的 Localizer
func GetLocalizer(lang string) *i18n.Localizer {
	b := ensureBundle()
	if b == nil {
		return nil
	}
	if lang == "" {
		lang = GetSystemLanguage()
	}
	return i18n.NewLocalizer(b, lang, defaultLang)
}

// T 翻译消息（使用系统默认语言）
func T(key string, data ...interface{}) string {
	return TWithLang(GetSystemLanguage(), key, data...)
}

// TWithLang 翻译消息（指定语言），找不到时返回 key
func TWithLang(lang string, key string, data ...interface{}) string {
	localizer := GetLocalizer(lang)
	if localizer == nil {
		return key
	}

	var templateData map[string]interface{}
	if len(data) > 0 {
		if m, ok := data[0].(map[string]interface{}); ok {
			templateData = m
		}
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		return key
	}
	return msg
}

// SetSystemLanguage 设置系统默认语言
func SetSystemLanguage(lang string) {
	mu.Lock()
	defer mu.Unlock()
	if lang != "" {
		systemLanguage = lang
	}
}

// GetSystemLanguage 获取系统默认语言
func GetSystemLanguage() string {
	mu.RLock()
	defer mu.RUnlock()
	return systemLanguage
}

// IsSupported 是否有内置翻译
func IsSupported(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}
