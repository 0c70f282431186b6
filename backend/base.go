package backend

import (
	"context"
	"sync"

	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/idgen"
)

// IDSource 为消费的任务生成 ID
type IDSource interface {
	NextID() string
}

// Options 各后端共享的可选依赖
type Options struct {
	Logger clog.Logger
	Hooks  Hooks
	Codec  Codec
	IDs    IDSource
}

// Option 配置 Options 的函数
type Option func(*Options)

// WithLogger 设置 logger，默认为 clog.Module(<后端名>)
func WithLogger(logger clog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithHooks 设置生命周期钩子，多个钩子请使用 ChainHooks 组合
func WithHooks(hooks Hooks) Option {
	return func(o *Options) { o.Hooks = hooks }
}

// WithCodec 设置编解码器，默认 JSONCodec
func WithCodec(codec Codec) Option {
	return func(o *Options) { o.Codec = codec }
}

// WithIDSource 设置任务 ID 生成器，默认 idgen.Default()
func WithIDSource(ids IDSource) Option {
	return func(o *Options) { o.IDs = ids }
}

// Base 各后端共享的生命周期状态：队列名、钩子、待处理任务表和最近消费的任务。
// 所有状态都属于单个实例，并发安全。
type Base struct {
	name   string
	queue  string
	logger clog.Logger
	hooks  Hooks
	codec  Codec
	ids    IDSource

	mu        sync.Mutex
	open      map[string][]byte
	lastJobID string
	lastJob   []byte
}

// NewBase 创建 Base
func NewBase(name, queue string, opts ...Option) *Base {
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = clog.Module(name)
	}
	if o.Hooks == nil {
		o.Hooks = NopHooks{}
	}
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	if o.IDs == nil {
		o.IDs = idgen.Default()
	}
	return &Base{
		name:   name,
		queue:  queue,
		logger: o.Logger.With(clog.String("queue", queue)),
		hooks:  o.Hooks,
		codec:  o.Codec,
		ids:    o.IDs,
		open:   make(map[string][]byte),
	}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Queue() string       { return b.queue }
func (b *Base) Logger() clog.Logger { return b.logger }
func (b *Base) Hooks() Hooks        { return b.hooks }
func (b *Base) Codec() Codec        { return b.codec }

// RequireQueue 队列操作前检查是否配置了队列名
func (b *Base) RequireQueue() error {
	if b.queue == "" {
		return ConfigError("no queue specified")
	}
	return nil
}

// Encode 编码负载，无法编码的形状返回 UnsupportedTypeError
func (b *Base) Encode(data any) ([]byte, error) {
	raw, err := b.codec.Marshal(data)
	if err != nil {
		return nil, UnsupportedTypeError("unable to encode payload", err)
	}
	return raw, nil
}

// Decode 解码引擎返回的字节，nil 表示不存在
func (b *Base) Decode(raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var v any
	if err := b.codec.Unmarshal(raw, &v); err != nil {
		return nil, OperationFailure("unable to decode payload", err)
	}
	return v, nil
}

// Consumed 为刚消费的负载分配任务 ID 并记为最近消费的任务
func (b *Base) Consumed(raw []byte) string {
	id := b.ids.NextID()
	b.SetLastJob(id, raw)
	return id
}

// SetLastJob 记录最近消费/清除/放回的任务
func (b *Base) SetLastJob(jobID string, raw []byte) {
	b.mu.Lock()
	b.lastJobID, b.lastJob = jobID, raw
	b.mu.Unlock()
}

// LastJob 返回最近消费的任务 ID 和原始负载
func (b *Base) LastJob() (string, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastJobID, b.lastJob
}

// Track 将交给调用方处理的任务记入待处理任务表
func (b *Base) Track(jobID string, raw []byte) {
	b.mu.Lock()
	b.open[jobID] = raw
	b.mu.Unlock()
}

// Discard 调用方处理完成后移除任务，返回任务是否存在
func (b *Base) Discard(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.open[jobID]
	delete(b.open, jobID)
	return ok
}

// OpenItem 返回待处理任务的原始负载，不存在返回 MissingItemError
func (b *Base) OpenItem(jobID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.open[jobID]
	if !ok {
		return nil, MissingItemError(jobID)
	}
	return raw, nil
}

// OpenCount 返回待处理任务数
func (b *Base) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

// BeginRelease 执行 BeforeRelease 钩子并取出待处理任务
func (b *Base) BeginRelease(ctx context.Context, jobID string) ([]byte, error) {
	if err := b.hooks.BeforeRelease(ctx, jobID); err != nil {
		return nil, err
	}
	return b.OpenItem(jobID)
}

// FinishRelease 任务重新入队后移出待处理任务表，并执行 AfterClearRelease 钩子
func (b *Base) FinishRelease(ctx context.Context, jobID string, raw []byte) {
	b.Discard(jobID)
	b.SetLastJob(jobID, raw)
	b.hooks.AfterClearRelease(ctx, jobID)
}
