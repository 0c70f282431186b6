package backend

import (
	"context"

	"github.com/ceyewan/queuekit/clog"
)

// Hooks 在公开操作前后执行。Before* 返回错误时操作被拦截，错误原样返回给调用方。
// key 为空表示队列操作（Push/Pop/Peek）。
type Hooks interface {
	BeforeAdd(ctx context.Context, key string) error
	BeforeGet(ctx context.Context, key string) error
	BeforeClear(ctx context.Context, key string) error
	BeforeRelease(ctx context.Context, jobID string) error
	AfterGet(ctx context.Context, key string, hit bool)
	AfterClearRelease(ctx context.Context, id string)
}

// NopHooks 默认的空实现，可嵌入只关心部分回调的实现中
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) BeforeAdd(context.Context, string) error     { return nil }
func (NopHooks) BeforeGet(context.Context, string) error     { return nil }
func (NopHooks) BeforeClear(context.Context, string) error   { return nil }
func (NopHooks) BeforeRelease(context.Context, string) error { return nil }
func (NopHooks) AfterGet(context.Context, string, bool)      {}
func (NopHooks) AfterClearRelease(context.Context, string)   {}

type chain []Hooks

// ChainHooks 按顺序组合多个 Hooks，Before* 遇到第一个错误即停止
func ChainHooks(hooks ...Hooks) Hooks {
	var c chain
	for _, h := range hooks {
		if h != nil {
			c = append(c, h)
		}
	}
	if len(c) == 0 {
		return NopHooks{}
	}
	if len(c) == 1 {
		return c[0]
	}
	return c
}

func (c chain) BeforeAdd(ctx context.Context, key string) error {
	for _, h := range c {
		if err := h.BeforeAdd(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) BeforeGet(ctx context.Context, key string) error {
	for _, h := range c {
		if err := h.BeforeGet(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) BeforeClear(ctx context.Context, key string) error {
	for _, h := range c {
		if err := h.BeforeClear(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) BeforeRelease(ctx context.Context, jobID string) error {
	for _, h := range c {
		if err := h.BeforeRelease(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

func (c chain) AfterGet(ctx context.Context, key string, hit bool) {
	for _, h := range c {
		h.AfterGet(ctx, key, hit)
	}
}

func (c chain) AfterClearRelease(ctx context.Context, id string) {
	for _, h := range c {
		h.AfterClearRelease(ctx, id)
	}
}

// logHooks 在 Debug 级别记录每次操作
type logHooks struct {
	logger clog.Logger
}

// LogHooks 返回记录操作日志的 Hooks
func LogHooks(logger clog.Logger) Hooks {
	return &logHooks{logger: logger}
}

func (h *logHooks) BeforeAdd(_ context.Context, key string) error {
	h.logger.Debug("add", clog.String("key", key))
	return nil
}

func (h *logHooks) BeforeGet(_ context.Context, key string) error {
	h.logger.Debug("get", clog.String("key", key))
	return nil
}

func (h *logHooks) BeforeClear(_ context.Context, key string) error {
	h.logger.Debug("clear", clog.String("key", key))
	return nil
}

func (h *logHooks) BeforeRelease(_ context.Context, jobID string) error {
	h.logger.Debug("release", clog.String("job_id", jobID))
	return nil
}

func (h *logHooks) AfterGet(_ context.Context, key string, hit bool) {
	h.logger.Debug("get done", clog.String("key", key), clog.Bool("hit", hit))
}

func (h *logHooks) AfterClearRelease(_ context.Context, id string) {
	h.logger.Debug("clear/release done", clog.String("id", id))
}
