package memcache

import (
	"fmt"
	"time"

	"github.com/ceyewan/queuekit/backend"
)

// 压缩算法
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// Config memcached 后端配置
type Config struct {
	// Servers memcached 地址列表，如 "127.0.0.1:11211"
	Servers []string `json:"servers" yaml:"servers"`

	// Queue 队列名，设置后每次写入都会记录到该队列的成员索引中
	Queue string `json:"queue" yaml:"queue"`

	// Expiry 默认过期时间，0 表示不过期
	Expiry time.Duration `json:"expiry" yaml:"expiry"`

	// Compression 压缩算法："none"、"snappy"、"lz4"
	Compression string `json:"compression" yaml:"compression"`

	// CompressThreshold 超过该字节数的值才会压缩
	CompressThreshold int `json:"compressThreshold" yaml:"compressThreshold"`

	// MaxIdleConns 每个服务器保留的空闲连接数
	MaxIdleConns int `json:"maxIdleConns" yaml:"maxIdleConns"`

	// Timeout 单次读写超时
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Servers:           []string{"localhost:11211"},
		Compression:       CompressionNone,
		CompressThreshold: 1024,
		MaxIdleConns:      2,
		Timeout:           500 * time.Millisecond,
	}
}

// GetDefaultConfig 返回指定环境的默认配置
func GetDefaultConfig(env string) *Config {
	cfg := DefaultConfig()
	if env == "production" {
		cfg.Servers = []string{"memcached:11211"}
		cfg.Compression = CompressionSnappy
		cfg.MaxIdleConns = 16
		cfg.Timeout = time.Second
	}
	return &cfg
}

// Validate 验证配置，服务器列表为空时返回 ConfigurationError
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return backend.ConfigError("no servers specified")
	}
	switch c.Compression {
	case "", CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return backend.ConfigError(fmt.Sprintf("unknown compression %q", c.Compression))
	}
	if c.Expiry < 0 || c.CompressThreshold < 0 {
		return backend.ConfigError("expiry and compressThreshold must be non-negative")
	}
	return nil
}
