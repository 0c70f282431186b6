// Package api 以 HTTP 接口暴露已配置的后端。
package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ceyewan/queuekit/api/router"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/config"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/gin-gonic/gin"
)

// Server HTTP 服务实例
type Server struct {
	addr     string
	server   *http.Server
	listener net.Listener
	logger   clog.Logger
}

// New 创建 HTTP 服务实例，telemetry 可以为 nil
func New(addr string, b backend.Backend, telemetry *metrics.Provider) (*Server, error) {
	gin.SetMode(config.GetGinRunMode())

	r, err := router.Register(b, telemetry)
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:   addr,
		server: &http.Server{Handler: r},
		logger: clog.Module("api"),
	}, nil
}

// Run 监听端口并在后台提供服务，监听失败时立即返回错误
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("HTTP 服务启动", clog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP 服务异常退出", clog.Err(err))
		}
	}()
	return nil
}

// Addr 返回实际监听地址，Run 之前为空
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP 服务关闭失败", clog.Err(err))
		return err
	}
	s.logger.Info("HTTP 服务已关闭")
	return nil
}
