package handler

import (
	"net/http"

	"github.com/ceyewan/queuekit/backend"
	"github.com/gin-gonic/gin"
)

// 业务状态码
const (
	CodeSuccess = 0
	CodeFail    = 1
)

// Response 统一响应结构
type Response struct {
	Code  int    `json:"code"`
	JobID string `json:"jobId,omitempty"`
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// DataRequest 写入类请求的请求体
type DataRequest struct {
	Data any `json:"data"`
}

// IncrRequest 计数器请求体，By 为负数时递减
type IncrRequest struct {
	By int64 `json:"by"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Data: data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Code: CodeFail, Error: msg})
}

// statusOf 把后端错误类型映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case backend.IsValidationError(err):
		return http.StatusBadRequest
	case backend.IsConfigError(err):
		return http.StatusUnprocessableEntity
	case backend.IsMissingItemError(err):
		return http.StatusNotFound
	case backend.IsUnsupportedTypeError(err):
		return http.StatusConflict
	case backend.IsOperationFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
