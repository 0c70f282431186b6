package handler

import (
	"net/http"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/gin-gonic/gin"
)

func (h *Handler) queue(c *gin.Context) (backend.JobQueue, bool) {
	q, ok := h.backend.(backend.JobQueue)
	if !ok {
		unsupported(c, "queue operations")
	}
	return q, ok
}

// Push 入队
func (h *Handler) Push(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	var req DataRequest
	if !h.bindJSON(c, &req, "push") {
		return
	}
	if err := q.Push(c.Request.Context(), req.Data); err != nil {
		h.abort(c, "push", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Code: CodeSuccess})
}

// Pop 出队并登记为待处理任务，返回的 jobId 用于 Release
func (h *Handler) Pop(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}

	h.popMu.Lock()
	data, err := q.Pop(c.Request.Context())
	var jobID string
	if err == nil && data != nil {
		var raw []byte
		jobID, raw = q.LastJob()
		q.Track(jobID, raw)
	}
	h.popMu.Unlock()

	if err != nil {
		h.abort(c, "pop", err)
		return
	}
	if data != nil {
		h.logger.Debug("任务已出队", clog.String("job_id", jobID))
	}
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, JobID: jobID, Data: data})
}

// Peek 查看队首
func (h *Handler) Peek(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	data, err := q.Peek(c.Request.Context())
	if err != nil {
		h.abort(c, "peek", err)
		return
	}
	success(c, data)
}

// Release 把待处理任务放回队尾
func (h *Handler) Release(c *gin.Context) {
	q, ok := h.queue(c)
	if !ok {
		return
	}
	jobID := c.Param("id")
	if err := q.Release(c.Request.Context(), jobID); err != nil {
		h.abort(c, "release", err)
		return
	}
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, JobID: jobID})
}

// Complete 确认任务已处理，从待处理表中移除
func (h *Handler) Complete(c *gin.Context) {
	jobID := c.Param("id")
	if !h.backend.Discard(jobID) {
		h.abort(c, "complete", backend.MissingItemError(jobID))
		return
	}
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, JobID: jobID})
}

// Len 返回队列长度
func (h *Handler) Len(c *gin.Context) {
	l, ok := h.backend.(Lener)
	if !ok {
		unsupported(c, "queue length")
		return
	}
	n, err := l.Len(c.Request.Context())
	if err != nil {
		h.abort(c, "len", err)
		return
	}
	success(c, n)
}
