package kafka

import (
	"fmt"
	"time"

	"github.com/ceyewan/queuekit/backend"
)

// DefaultPollTimeout 出队时等待消息的默认时长
const DefaultPollTimeout = 1200 * time.Millisecond

// NoGroup 作为 GroupID 时不加入消费者组。偏移量只保存在进程内，
// 重启后按 StartOffset 重新读取 topic
const NoGroup = "-"

// Config Kafka 后端配置，队列名即 topic
type Config struct {
	// Brokers Kafka 集群地址列表
	Brokers []string `json:"brokers" yaml:"brokers"`

	// Queue topic 名称
	Queue string `json:"queue" yaml:"queue"`

	// PollTimeout 出队等待时长，超时返回空结果
	PollTimeout time.Duration `json:"pollTimeout" yaml:"pollTimeout"`

	// GroupID 消费者组，为空时使用 "queuekit-<Queue>" 并自动提交偏移量；
	// 设为 NoGroup 时直接按分区消费
	GroupID string `json:"groupId" yaml:"groupId"`

	// ClientID 客户端 ID，为空时自动生成
	ClientID string `json:"clientId" yaml:"clientId"`

	// Acks 确认级别: 0, 1, -1(all)
	Acks int `json:"acks" yaml:"acks"`

	// Compression 压缩算法: "none", "gzip", "snappy", "lz4", "zstd"
	Compression string `json:"compression" yaml:"compression"`

	// StartOffset 没有已提交偏移量时的起点: "earliest", "latest"
	StartOffset string `json:"startOffset" yaml:"startOffset"`

	// AutoCreateTopic 连接时通过管理接口创建 topic
	AutoCreateTopic   bool  `json:"autoCreateTopic" yaml:"autoCreateTopic"`
	Partitions        int32 `json:"partitions" yaml:"partitions"`
	ReplicationFactor int16 `json:"replicationFactor" yaml:"replicationFactor"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"localhost:9092"},
		PollTimeout:       DefaultPollTimeout,
		Acks:              -1,
		Compression:       "none",
		StartOffset:       "earliest",
		Partitions:        1,
		ReplicationFactor: 1,
	}
}

// GetDefaultConfig 返回指定环境的默认配置
func GetDefaultConfig(env string) *Config {
	cfg := DefaultConfig()
	if env == "production" {
		cfg.Brokers = []string{"kafka:9092"}
		cfg.Compression = "lz4"
		cfg.Partitions = 3
		cfg.ReplicationFactor = 3
	}
	return &cfg
}

// Validate 验证配置，broker 列表为空时返回 ConfigurationError
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return backend.ConfigError("no brokers specified")
	}
	switch c.Acks {
	case 0, 1, -1:
	default:
		return backend.ConfigError(fmt.Sprintf("invalid acks %d", c.Acks))
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return backend.ConfigError(fmt.Sprintf("unknown compression %q", c.Compression))
	}
	switch c.StartOffset {
	case "", "earliest", "latest":
	default:
		return backend.ConfigError(fmt.Sprintf("unknown start offset %q", c.StartOffset))
	}
	if c.PollTimeout < 0 {
		return backend.ConfigError("pollTimeout must be non-negative")
	}
	return nil
}

func (c *Config) pollTimeout() time.Duration {
	if c.PollTimeout <= 0 {
		return DefaultPollTimeout
	}
	return c.PollTimeout
}

// groupID 返回实际使用的消费者组，空串表示不加入消费者组
func (c *Config) groupID() string {
	switch c.GroupID {
	case NoGroup:
		return ""
	case "":
		return "queuekit-" + c.Queue
	default:
		return c.GroupID
	}
}
