package redis

import (
	"time"

	"github.com/ceyewan/queuekit/backend"
)

// Config Redis 后端配置
type Config struct {
	// Servers 服务器地址，只使用第一个；支持 "host:port" 或 "redis://" URL
	Servers []string `json:"servers" yaml:"servers"`

	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`

	// Queue 队列名；有序模式下是有序集合的键，否则是列表的键
	Queue string `json:"queue" yaml:"queue"`

	// Expiry 负载的过期时间，0 表示不过期
	Expiry time.Duration `json:"expiry" yaml:"expiry"`

	// ScoreKey 负载中作为排序分值的字段，设置后队列按分值升序出队
	ScoreKey string `json:"scoreKey" yaml:"scoreKey"`

	// CorrelationKey 负载中作为存储键的字段，必须与 ScoreKey 同时设置
	CorrelationKey string `json:"correlationKey" yaml:"correlationKey"`

	// KeyPrefix 所有键的前缀
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`

	PoolSize     int           `json:"poolSize" yaml:"poolSize"`
	MinIdleConns int           `json:"minIdleConns" yaml:"minIdleConns"`
	DialTimeout  time.Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout  time.Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout"`

	// MaxCASAttempts 乐观事务的最大尝试次数
	MaxCASAttempts int `json:"maxCasAttempts" yaml:"maxCasAttempts"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Servers:        []string{"localhost:6379"},
		PoolSize:       10,
		MinIdleConns:   2,
		DialTimeout:    5 * time.Second,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		MaxCASAttempts: 3,
	}
}

// GetDefaultConfig 返回指定环境的默认配置。
// 开发环境：本地单机，较少连接；生产环境：更多连接，更长超时
func GetDefaultConfig(env string) *Config {
	cfg := DefaultConfig()
	if env == "production" {
		cfg.Servers = []string{"redis:6379"}
		cfg.PoolSize = 100
		cfg.MinIdleConns = 10
		cfg.DialTimeout = 10 * time.Second
		cfg.ReadTimeout = 5 * time.Second
		cfg.WriteTimeout = 5 * time.Second
		cfg.KeyPrefix = "queuekit:"
	}
	return &cfg
}

// Validate 验证连接配置；ScoreKey 与 CorrelationKey 的配对在入队时检查
func (c *Config) Validate() error {
	if len(c.Servers) == 0 || c.Servers[0] == "" {
		return backend.ConfigError("no servers specified")
	}
	if c.Expiry < 0 {
		return backend.ConfigError("expiry must be non-negative")
	}
	return nil
}

func (c *Config) maxAttempts() int {
	if c.MaxCASAttempts <= 0 {
		return 3
	}
	return c.MaxCASAttempts
}
