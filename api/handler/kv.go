package handler

import (
	"net/http"

	"github.com/ceyewan/queuekit/backend"
	"github.com/gin-gonic/gin"
)

func (h *Handler) store(c *gin.Context) (backend.KeyValueStore, bool) {
	s, ok := h.backend.(backend.KeyValueStore)
	if !ok {
		unsupported(c, "key-value operations")
	}
	return s, ok
}

// Get 读取键，不存在时返回 404
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	data, err := s.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.abort(c, "get", err)
		return
	}
	if data == nil {
		fail(c, http.StatusNotFound, "key not found")
		return
	}
	success(c, data)
}

// Set 写入键
func (h *Handler) Set(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	var req DataRequest
	if !h.bindJSON(c, &req, "set") {
		return
	}
	if err := s.Set(c.Request.Context(), c.Param("key"), req.Data); err != nil {
		h.abort(c, "set", err)
		return
	}
	success(c, nil)
}

// Clear 删除键，data 表示键是否存在过
func (h *Handler) Clear(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	existed, err := s.Clear(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.abort(c, "clear", err)
		return
	}
	success(c, existed)
}

// Incr 计数器加减，键不存在时返回 404
func (h *Handler) Incr(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	req := IncrRequest{By: 1}
	if c.Request.ContentLength > 0 && !h.bindJSON(c, &req, "incr") {
		return
	}

	key := c.Param("key")
	var (
		n     int64
		found bool
		err   error
	)
	if req.By < 0 {
		n, found, err = s.DecrementBy(c.Request.Context(), key, -req.By)
	} else {
		n, found, err = s.IncrementBy(c.Request.Context(), key, req.By)
	}
	if err != nil {
		h.abort(c, "incr", err)
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "key not found")
		return
	}
	success(c, n)
}
