package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meridian/backtest"
	"meridian/config"
	"meridian/runner"
)

// Server 回测 HTTP 服务的处理器集合
type Server struct {
	cfg     *config.Config
	runner  *runner.Runner
	catalog *backtest.Catalog
	limiter *RateLimiter
	version string
	started time.Time
}

// NewServer 创建处理器集合
func NewServer(cfg *config.Config, r *runner.Runner, catalog *backtest.Catalog, version string) *Server {
	if catalog == nil {
		catalog = backtest.NewCatalog(cfg.Backtest.Data.Dir)
	}
	return &Server{
		cfg:     cfg,
		runner:  r,
		catalog: catalog,
		limiter: NewRateLimiter(cfg.Web.RateLimit, cfg.Web.Burst),
		version: version,
		started: time.Now(),
	}
}

// Handler 创建 gin 引擎并注册路由
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(strings.EqualFold(s.cfg.System.LogLevel, "DEBUG"), s.runner.Metrics()))
	r.Use(I18nMiddleware(s.cfg.System.LogLanguage))
	s.SetupRoutes(r)
	return r
}

// SetupRoutes 设置路由
func (s *Server) SetupRoutes(r *gin.Engine) {
	// Prometheus metrics 端点（供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(s.runner.Metrics().Handler()))
	r.GET("/healthz", s.healthz)

	// 实时回放推送
	r.GET("/ws/backtest", s.limiter.Middleware(), s.handleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/version", s.getVersion)
		api.GET("/strategies", s.listStrategies)
		api.GET("/datasets", s.listDatasets)

		api.POST("/backtest", s.limiter.Middleware(), s.runBacktest)
		api.POST("/sweep", s.limiter.Middleware(), s.runSweep)
		api.GET("/backtests", s.listBacktests)
		api.GET("/backtests/:id", s.getBacktest)
		api.DELETE("/backtests/:id", s.deleteBacktest)
	}
}

// healthz 健康检查
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := s.runner.Database().Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = err.Error()
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"database": dbStatus,
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"runs":     s.runner.Metrics().Summary(),
	})
}

// getVersion 版本号
func (s *Server) getVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": s.version})
}
