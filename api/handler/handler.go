// Package handler 实现 HTTP 接口，把请求转换为后端的队列和键值操作。
package handler

import (
	"context"
	"net/http"
	"sync"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/gin-gonic/gin"
)

// Pinger 可探活的后端
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lener 可返回队列长度的后端
type Lener interface {
	Len(ctx context.Context) (int64, error)
}

// Handler 持有后端实例，所有请求共享
type Handler struct {
	backend backend.Backend
	logger  clog.Logger

	// Pop 与 LastJob 必须成对读取
	popMu sync.Mutex
}

// New 创建 Handler
func New(b backend.Backend) *Handler {
	return &Handler{
		backend: b,
		logger:  clog.Module("api").With(clog.String("backend", b.Name()), clog.String("queue", b.Queue())),
	}
}

// Health 探活；后端不支持 Ping 时直接返回成功
func (h *Handler) Health(c *gin.Context) {
	if p, ok := h.backend.(Pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			h.logger.Warn("后端探活失败", clog.Err(err))
			fail(c, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	success(c, gin.H{"backend": h.backend.Name(), "queue": h.backend.Queue()})
}

// bindJSON 解析请求体，失败时直接写回 400
func (h *Handler) bindJSON(c *gin.Context, req any, op string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("请求格式错误", clog.String("op", op), clog.Err(err))
		fail(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// abort 根据错误类型写回响应
func (h *Handler) abort(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("操作失败", clog.String("op", op), clog.Err(err))
	} else {
		h.logger.Debug("操作被拒绝", clog.String("op", op), clog.Err(err))
	}
	fail(c, status, err.Error())
}

func unsupported(c *gin.Context, capability string) {
	fail(c, http.StatusNotImplemented, "backend does not support "+capability)
}
