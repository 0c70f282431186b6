package kafka

import (
	"context"
	"errors"
	"strconv"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// producerClient 生产端使用的 kgo 操作子集
type producerClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// consumerClient 消费端使用的 kgo 操作子集
type consumerClient interface {
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	Close()
}

var (
	_ producerClient = (*kgo.Client)(nil)
	_ consumerClient = (*kgo.Client)(nil)
)

// buildProducerOpts 构建生产者选项
func buildProducerOpts(cfg Config, clientID string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(cfg.Queue),
	}

	switch cfg.Acks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}

	switch cfg.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	default:
		opts = append(opts, kgo.ProducerBatchCompression(kgo.NoCompression()))
	}
	return opts
}

// buildConsumerOpts 构建消费者选项；加入消费者组时由客户端定期自动提交已拉取的偏移量
func buildConsumerOpts(cfg Config, clientID string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.ConsumeTopics(cfg.Queue),
	}
	if cfg.StartOffset == "latest" {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	}
	if group := cfg.groupID(); group != "" {
		opts = append(opts, kgo.ConsumerGroup(group))
	}
	return opts
}

// ensureTopic 通过 kadm 创建 topic，已存在视为成功
func ensureTopic(ctx context.Context, cfg Config, clientID string, logger clog.Logger) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(cfg.Brokers...), kgo.ClientID(clientID+"-admin"))
	if err != nil {
		return backend.ConfigError("unable to create admin client: " + err.Error())
	}
	defer client.Close()

	partitions, replication := cfg.Partitions, cfg.ReplicationFactor
	if partitions <= 0 {
		partitions = 1
	}
	if replication <= 0 {
		replication = 1
	}

	results, err := kadm.NewClient(client).CreateTopics(ctx, partitions, replication, nil, cfg.Queue)
	if err != nil {
		return engineFailure("unable to create topic", err)
	}
	for _, result := range results {
		if result.Err != nil && !errors.Is(result.Err, kerr.TopicAlreadyExists) {
			logger.Error("创建 topic 失败", clog.String("topic", result.Topic), clog.Err(result.Err))
			return engineFailure("unable to create topic", result.Err)
		}
	}
	logger.Info("topic 已就绪", clog.String("topic", cfg.Queue), clog.Int32("partitions", partitions))
	return nil
}

// engineFailure 将 Kafka 错误包装为 OperationFailure，协议错误携带错误码和错误名
func engineFailure(msg string, err error) error {
	var kErr *kerr.Error
	if errors.As(err, &kErr) {
		return backend.OperationFailureCode(strconv.Itoa(int(kErr.Code)), msg+": "+kErr.Message, err)
	}
	return backend.OperationFailure(msg, err)
}
