package web

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"meridian/logger"
	"meridian/metrics"
)

// GinLoggerMiddleware 自定义 Gin 日志中间件
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool, pm *metrics.PrometheusMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 记录请求开始时间
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// 处理请求
		c.Next()

		statusCode := c.Writer.Status()
		if pm != nil {
			// 使用路由模板作为标签，避免 ID 造成高基数
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			pm.RecordRequest(c.Request.Method, route, statusCode)
		}

		// 非 debug 模式只记录 4xx/5xx
		if !logAll && statusCode < 400 {
			return
		}

		// 拼接完整路径
		if raw != "" {
			path = path + "?" + raw
		}

		logMessage := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			statusCode,
			time.Since(start),
			c.ClientIP(),
			c.Request.Method,
			path,
		)
		// 获取错误信息（如果有）
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logMessage += " | Error: " + errorMessage
		}

		if statusCode >= 500 {
			logger.Error("%s", logMessage)
		} else if statusCode >= 400 {
			logger.Warn("%s", logMessage)
		} else {
			logger.Info("%s", logMessage)
		}
	}
}
