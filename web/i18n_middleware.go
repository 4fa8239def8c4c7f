package web

import (
	"strings"

	"github.com/gin-gonic/gin"

	mi18n "meridian/i18n"
)

// I18nMiddleware 解析请求的 Accept-Language 头并设置到上下文
// 无法识别时使用 fallback（系统语言）
func I18nMiddleware(fallback string) gin.HandlerFunc {
	if !mi18n.IsSupported(fallback) {
		fallback = "en-US"
	}
	return func(c *gin.Context) {
		lang := parseAcceptLanguage(c.GetHeader("Accept-Language"), fallback)
		c.Set("language", lang)
		c.Next()
	}
}

// parseAcceptLanguage 解析 Accept-Language 头，按顺序取第一个支持的语言
// 示例: "zh-CN,zh;q=0.9,en;q=0.8" -> "zh-CN"
func parseAcceptLanguage(acceptLang, fallback string) string {
	for _, part := range strings.Split(acceptLang, ",") {
		// 去除权重参数 (;q=0.9)
		if idx := strings.Index(part, ";"); idx != -1 {
			part = part[:idx]
		}
		if lang := normalizeLanguage(strings.TrimSpace(part)); lang != "" {
			return lang
		}
	}
	return fallback
}

// normalizeLanguage 标准化语言代码，不支持的语言返回空串
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(lang)

	switch {
	case strings.HasPrefix(lang, "zh"):
		return "zh-CN"
	case strings.HasPrefix(lang, "en"):
		return "en-US"
	default:
		return ""
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get("language"); exists {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return mi18n.GetSystemLanguage()
}

// T 翻译消息（从上下文获取语言）
func T(c *gin.Context, key string, data ...interface{}) string {
	return mi18n.TWithLang(GetLanguage(c), key, data...)
}
