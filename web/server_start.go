package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"meridian/logger"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	addr   string
}

// NewWebServer 创建Web服务器
func NewWebServer(s *Server) *WebServer {
	// 设置Gin模式
	if strings.EqualFold(s.cfg.System.LogLevel, "DEBUG") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// 配置服务器
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// 大数据集回测可能较慢，写超时放宽
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &WebServer{server: server, addr: addr}
}

// Run 启动Web服务器，阻塞直到 ctx 取消或监听失败
func (ws *WebServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.addr)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("Web服务器启动失败: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	ws.Stop()
	return nil
}

// Stop 停止Web服务器
func (ws *WebServer) Stop() {
	if ws == nil || ws.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
	} else {
		logger.Info("✅ Web服务器已关闭")
	}
}
