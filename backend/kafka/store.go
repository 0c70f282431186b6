// Package kafka 基于 Kafka 的只追加日志队列。
//
// 生产端和消费端的客户端按需分别创建：只入队的实例不会打开消费端，反之亦然。
// 日志没有随机访问能力，因此不提供键值操作；Peek 始终返回 nil。
package kafka

import (
	"context"
	"errors"
	"sync"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Store Kafka 队列
type Store struct {
	*backend.Base
	cfg      Config
	clientID string

	newProducer func(cfg Config, clientID string) (producerClient, error)
	newConsumer func(cfg Config, clientID string) (consumerClient, error)

	mu        sync.Mutex
	connected bool
	producer  producerClient
	consumer  consumerClient
}

var _ backend.JobQueue = (*Store)(nil)

// New 创建 Store，需调用 Connect 后才能使用
func New(cfg Config, opts ...backend.Option) *Store {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "queuekit-" + uuid.NewString()
	}
	return &Store{
		Base:     backend.NewBase("kafka", cfg.Queue, opts...),
		cfg:      cfg,
		clientID: clientID,
		newProducer: func(cfg Config, clientID string) (producerClient, error) {
			return kgo.NewClient(buildProducerOpts(cfg, clientID)...)
		},
		newConsumer: func(cfg Config, clientID string) (consumerClient, error) {
			return kgo.NewClient(buildConsumerOpts(cfg, clientID)...)
		},
	}
}

// Connect 校验配置，按需创建 topic。客户端在首次入队/出队时才创建。
func (s *Store) Connect(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.cfg.AutoCreateTopic {
		if err := s.RequireQueue(); err != nil {
			return err
		}
		if err := ensureTopic(ctx, s.cfg, s.clientID, s.Logger()); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.Logger().Info("Kafka 后端已就绪", clog.Strings("brokers", s.cfg.Brokers), clog.String("client_id", s.clientID))
	return nil
}

// Close 关闭已创建的客户端
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.producer != nil {
		s.producer.Close()
		s.producer = nil
	}
	if s.consumer != nil {
		s.consumer.Close()
		s.consumer = nil
	}
	s.connected = false
	return nil
}

func (s *Store) producerHandle() (producerClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, backend.ConfigError("not connected")
	}
	if s.producer == nil {
		p, err := s.newProducer(s.cfg, s.clientID)
		if err != nil {
			return nil, backend.ConfigError("unable to create producer: " + err.Error())
		}
		s.producer = p
		s.Logger().Debug("生产者客户端已创建")
	}
	return s.producer, nil
}

func (s *Store) consumerHandle() (consumerClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, backend.ConfigError("not connected")
	}
	if s.consumer == nil {
		c, err := s.newConsumer(s.cfg, s.clientID)
		if err != nil {
			return nil, backend.ConfigError("unable to create consumer: " + err.Error())
		}
		s.consumer = c
		s.Logger().Debug("消费者客户端已创建", clog.String("group_id", s.cfg.groupID()))
	}
	return s.consumer, nil
}

// Push 追加到日志末尾，不指定分区键
func (s *Store) Push(ctx context.Context, data any) error {
	if err := s.RequireQueue(); err != nil {
		return err
	}
	if backend.IsEmpty(data) {
		return backend.ValidationError("no data")
	}
	p, err := s.producerHandle()
	if err != nil {
		return err
	}
	if err := s.Hooks().BeforeAdd(ctx, ""); err != nil {
		return err
	}
	raw, err := s.Encode(data)
	if err != nil {
		return err
	}
	return s.produce(ctx, p, raw)
}

func (s *Store) produce(ctx context.Context, p producerClient, raw []byte) error {
	record := &kgo.Record{Topic: s.Queue(), Value: raw}
	if err := p.ProduceSync(ctx, record).FirstErr(); err != nil {
		s.Logger().Error("发送消息失败", clog.Err(err))
		return engineFailure("unable to produce", err)
	}
	return nil
}

// Pop 拉取下一条消息，最多等待 PollTimeout；超时返回 nil，其他错误返回 OperationFailure
func (s *Store) Pop(ctx context.Context) (any, error) {
	if err := s.RequireQueue(); err != nil {
		return nil, err
	}
	c, err := s.consumerHandle()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, ""); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.pollTimeout())
	defer cancel()

	fetches := c.PollRecords(pollCtx, 1)
	if fetches.IsClientClosed() {
		return nil, backend.OperationFailure("consumer client closed", kgo.ErrClientClosed)
	}
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
			continue
		}
		s.Logger().Error("拉取消息失败", clog.String("topic", fe.Topic), clog.Int32("partition", fe.Partition), clog.Err(fe.Err))
		return nil, engineFailure("unable to consume", fe.Err)
	}

	records := fetches.Records()
	if len(records) == 0 {
		s.Hooks().AfterGet(ctx, "", false)
		return nil, nil
	}
	raw := records[0].Value
	s.Consumed(raw)
	s.Hooks().AfterGet(ctx, "", true)
	return s.Decode(raw)
}

// Peek 日志没有不消费的预读能力，始终返回 nil。钩子照常执行，便于统一限流和审计
func (s *Store) Peek(ctx context.Context) (any, error) {
	if err := s.RequireQueue(); err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, ""); err != nil {
		return nil, err
	}
	s.Hooks().AfterGet(ctx, "", false)
	return nil, nil
}

// Release 将待处理任务的原始负载重新追加到日志末尾
func (s *Store) Release(ctx context.Context, jobID string) error {
	if err := s.RequireQueue(); err != nil {
		return err
	}
	p, err := s.producerHandle()
	if err != nil {
		return err
	}
	raw, err := s.BeginRelease(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.produce(ctx, p, raw); err != nil {
		return err
	}
	s.FinishRelease(ctx, jobID, raw)
	return nil
}
