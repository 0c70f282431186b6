package metrics

import (
	"context"

	"github.com/ceyewan/queuekit/backend"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracingHooks 把后端操作记录为当前 span 上的事件，上下文中没有 span 时不做任何事
type tracingHooks struct {
	base []attribute.KeyValue
}

// NewTracingHooks 返回记录 span 事件的 Hooks。span 由调用方创建，
// 例如 Provider.HTTPMiddleware 的请求 span 或 worker 的任务 span
func NewTracingHooks(backendName, queue string) backend.Hooks {
	return &tracingHooks{base: []attribute.KeyValue{
		attribute.String("queuekit.backend", backendName),
		attribute.String("queuekit.queue", queue),
	}}
}

func (h *tracingHooks) event(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(append(attrs, h.base...)...))
}

func (h *tracingHooks) BeforeAdd(ctx context.Context, key string) error {
	h.event(ctx, "queuekit.add", attribute.String("queuekit.key", key))
	return nil
}

func (h *tracingHooks) BeforeGet(ctx context.Context, key string) error {
	h.event(ctx, "queuekit.get", attribute.String("queuekit.key", key))
	return nil
}

func (h *tracingHooks) BeforeClear(ctx context.Context, key string) error {
	h.event(ctx, "queuekit.clear", attribute.String("queuekit.key", key))
	return nil
}

func (h *tracingHooks) BeforeRelease(ctx context.Context, jobID string) error {
	h.event(ctx, "queuekit.release", attribute.String("queuekit.job_id", jobID))
	return nil
}

func (h *tracingHooks) AfterGet(ctx context.Context, key string, hit bool) {
	h.event(ctx, "queuekit.get.done", attribute.String("queuekit.key", key), attribute.Bool("queuekit.hit", hit))
}

func (h *tracingHooks) AfterClearRelease(ctx context.Context, id string) {
	h.event(ctx, "queuekit.clear_release.done", attribute.String("queuekit.id", id))
}
