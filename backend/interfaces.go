// Package backend 定义队列与键值存储的统一能力接口，以及各后端共享的生命周期状态。
//
// 三种引擎（memcached、Redis、Kafka）各自独立实现 KeyValueStore 和/或 FifoQueueStore，
// 调用方无需关心具体由哪种引擎承载某个队列。
package backend

import "context"

// KeyValueStore 键值存储能力
type KeyValueStore interface {
	// Get 返回解码后的值，键不存在时返回 nil
	Get(ctx context.Context, key string) (any, error)
	// Set 写入值，空键或空数据返回 ValidationError
	Set(ctx context.Context, key string, data any) error
	// Clear 删除键，返回是否确实删除了内容
	Clear(ctx context.Context, key string) (bool, error)
	// IncrementBy 原子递增，键不存在时返回 false 且不创建键
	IncrementBy(ctx context.Context, key string, n int64) (int64, bool, error)
	// DecrementBy 原子递减，键不存在时返回 false 且不创建键
	DecrementBy(ctx context.Context, key string, n int64) (int64, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// FifoQueueStore 队列能力
type FifoQueueStore interface {
	Push(ctx context.Context, data any) error
	// Pop 移除并返回队首元素，空队列返回 nil, nil
	Pop(ctx context.Context) (any, error)
	// Peek 返回队首元素但不移除
	Peek(ctx context.Context) (any, error)
	// Release 将待处理任务重新放回队尾
	Release(ctx context.Context, jobID string) error
}

// Connector 连接生命周期
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Tracker 待处理任务表与最近消费状态
type Tracker interface {
	Track(jobID string, raw []byte)
	Discard(jobID string) bool
	LastJob() (jobID string, raw []byte)
}

// Backend 所有后端的公共部分
type Backend interface {
	Connector
	Tracker
	Name() string
	Queue() string
}

// JobQueue 可被 worker 和 HTTP 接口消费的队列后端
type JobQueue interface {
	Backend
	FifoQueueStore
}
