// Package config 读取 queuekit 的 YAML 配置并据此创建后端实例。
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/backend/kafka"
	"github.com/ceyewan/queuekit/backend/memcache"
	"github.com/ceyewan/queuekit/backend/redis"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/idgen"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/ceyewan/queuekit/worker"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// 后端类型
const (
	TypeMemcache = "memcache"
	TypeRedis    = "redis"
	TypeKafka    = "kafka"
)

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Config queuekit 的完整配置，Type 决定使用哪一段后端配置
type Config struct {
	Type  string `json:"type" yaml:"type"`
	Codec string `json:"codec" yaml:"codec"`

	Log   clog.Config  `json:"log" yaml:"log"`
	IDGen idgen.Config `json:"idgen" yaml:"idgen"`

	Memcache memcache.Config `json:"memcache" yaml:"memcache"`
	Redis    redis.Config    `json:"redis" yaml:"redis"`
	Kafka    kafka.Config    `json:"kafka" yaml:"kafka"`

	Worker  worker.Config         `json:"worker" yaml:"worker"`
	HTTP    HTTPConfig            `json:"http" yaml:"http"`
	Tracing metrics.TracingConfig `json:"tracing" yaml:"tracing"`
}

// GetMode 获取当前运行模式，从环境变量 RUN_MODE 中读取，默认为 "development"
func GetMode() string {
	env := os.Getenv("RUN_MODE")
	if env == "" {
		env = "development"
	}
	return env
}

// GetGinRunMode 根据当前运行模式返回 Gin 框架对应的运行模式
func GetGinRunMode() string {
	if GetMode() == "production" {
		return "release"
	}
	return "debug"
}

// Default 返回指定环境的默认配置
func Default(env string) Config {
	cfg := Config{
		Type:     TypeRedis,
		Codec:    "json",
		Log:      clog.DefaultConfig(),
		IDGen:    idgen.DefaultConfig(),
		Memcache: *memcache.GetDefaultConfig(env),
		Redis:    *redis.GetDefaultConfig(env),
		Kafka:    *kafka.GetDefaultConfig(env),
		Worker:   worker.DefaultConfig(),
		HTTP:     HTTPConfig{Addr: ":8080"},
		Tracing:  metrics.DefaultTracingConfig(),
	}
	if env == "production" {
		cfg.Log = clog.ProductionConfig("logs/queuekit.log")
	}
	return cfg
}

// Load 读取 YAML 配置文件，未设置的字段保留当前运行模式的默认值
func Load(path string) (Config, error) {
	cfg := Default(GetMode())
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, backend.ConfigError(fmt.Sprintf("parse %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查后端类型、编解码器以及对应后端的配置
func (c *Config) Validate() error {
	if _, err := backend.CodecByName(c.Codec); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return backend.ConfigError(err.Error())
	}
	if err := c.IDGen.Validate(); err != nil {
		return backend.ConfigError(err.Error())
	}
	if err := c.Tracing.Validate(); err != nil {
		return backend.ConfigError(err.Error())
	}
	switch c.Type {
	case TypeMemcache:
		return c.Memcache.Validate()
	case TypeRedis:
		return c.Redis.Validate()
	case TypeKafka:
		return c.Kafka.Validate()
	default:
		return backend.ConfigError(fmt.Sprintf("unknown backend type %q", c.Type))
	}
}

// Queue 返回当前后端配置的队列名
func (c *Config) Queue() string {
	switch c.Type {
	case TypeMemcache:
		return c.Memcache.Queue
	case TypeRedis:
		return c.Redis.Queue
	case TypeKafka:
		return c.Kafka.Queue
	}
	return ""
}

// Build 按配置创建后端但不连接。总是附加日志和 span 事件钩子，reg 不为 nil 时再附加 Prometheus 钩子
func Build(cfg Config, reg prometheus.Registerer) (backend.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := backend.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	ids, err := idgen.New(cfg.IDGen)
	if err != nil {
		return nil, backend.ConfigError(err.Error())
	}

	logger := clog.Module(cfg.Type)
	hooks := []backend.Hooks{backend.LogHooks(logger), metrics.NewTracingHooks(cfg.Type, cfg.Queue())}
	if reg != nil {
		mh, err := metrics.NewHooks(reg, cfg.Type, cfg.Queue())
		if err != nil {
			return nil, fmt.Errorf("注册指标失败: %w", err)
		}
		hooks = append(hooks, mh)
	}

	opts := []backend.Option{
		backend.WithLogger(logger),
		backend.WithCodec(codec),
		backend.WithIDSource(ids),
		backend.WithHooks(backend.ChainHooks(hooks...)),
	}
	switch cfg.Type {
	case TypeMemcache:
		return memcache.New(cfg.Memcache, opts...), nil
	case TypeRedis:
		return redis.New(cfg.Redis, opts...), nil
	default:
		return kafka.New(cfg.Kafka, opts...), nil
	}
}

// Open 创建后端并连接
func Open(ctx context.Context, cfg Config, reg prometheus.Registerer) (backend.Backend, error) {
	b, err := Build(cfg, reg)
	if err != nil {
		return nil, err
	}
	if err := b.Connect(ctx); err != nil {
		return nil, err
	}
	clog.Module("config").Info("后端已连接",
		clog.String("type", cfg.Type),
		clog.String("queue", cfg.Queue()),
		clog.String("codec", cfg.Codec))
	return b, nil
}
