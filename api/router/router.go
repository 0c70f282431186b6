// Package router 注册 HTTP 路由和中间件。
package router

import (
	"net/http"
	"time"

	"github.com/ceyewan/queuekit/api/handler"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/gin-gonic/gin"
)

// Register 初始化并返回配置好的 Gin 引擎实例。telemetry 不为 nil 时启用请求追踪和 /metrics
func Register(b backend.Backend, telemetry *metrics.Provider) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), AccessLog(), CorsMiddleware())

	if telemetry != nil {
		r.Use(telemetry.HTTPMiddleware())
		r.GET("/metrics", gin.WrapH(telemetry.Handler()))
	}

	h := handler.New(b)
	r.GET("/healthz", h.Health)
	initQueueRouter(r, h)
	initKVRouter(r, h)

	// 处理404请求
	r.NoRoute(func(c *gin.Context) {
		clog.Module("router").Info("404 Not Found",
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path))
		c.JSON(http.StatusNotFound, handler.Response{Code: handler.CodeFail, Error: "404 Not Found"})
	})

	return r, nil
}

// initQueueRouter 初始化队列相关路由
func initQueueRouter(r *gin.Engine, h *handler.Handler) {
	queueGroup := r.Group("/queues")
	{
		queueGroup.POST("/push", h.Push)
		queueGroup.POST("/pop", h.Pop)
		queueGroup.GET("/peek", h.Peek)
		queueGroup.GET("/len", h.Len)
		queueGroup.POST("/release/:id", h.Release)
		queueGroup.POST("/complete/:id", h.Complete)
	}
}

// initKVRouter 初始化键值相关路由
func initKVRouter(r *gin.Engine, h *handler.Handler) {
	kvGroup := r.Group("/kv")
	{
		kvGroup.GET("/:key", h.Get)
		kvGroup.PUT("/:key", h.Set)
		kvGroup.DELETE("/:key", h.Clear)
		kvGroup.POST("/:key/incr", h.Incr)
	}
}

// AccessLog 返回记录请求日志的中间件
func AccessLog() gin.HandlerFunc {
	logger := clog.Module("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path),
			clog.Int("status", c.Writer.Status()),
			clog.Duration("latency", time.Since(start)))
	}
}

// CorsMiddleware 返回处理跨域资源共享(CORS)的中间件
func CorsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS, POST, PUT, DELETE")

		// 对OPTIONS请求直接返回成功
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
