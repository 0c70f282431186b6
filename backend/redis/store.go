// Package redis 基于 Redis 的队列与键值存储。
//
// 未配置分值字段时队列是一个列表，RPUSH 入队、LPOP 出队。
// 配置了分值字段和关联字段后，负载以关联值为键单独存储，同时把 (分值, 关联值)
// 写入以队列名为键的有序集合；出队通过 WATCH/MULTI/EXEC 乐观事务原子地取出最小分值的成员。
package redis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	goredis "github.com/redis/go-redis/v9"
)

// Store Redis 队列与键值存储
type Store struct {
	*backend.Base
	cfg Config

	mu     sync.RWMutex
	client *goredis.Client

	// watchHook 在每次乐观事务读取前调用，测试用于制造并发冲突
	watchHook func()
}

var (
	_ backend.JobQueue      = (*Store)(nil)
	_ backend.KeyValueStore = (*Store)(nil)
)

// New 创建 Store，需调用 Connect 后才能使用
func New(cfg Config, opts ...backend.Option) *Store {
	return &Store{
		Base: backend.NewBase("redis", cfg.Queue, opts...),
		cfg:  cfg,
	}
}

// Connect 创建客户端并测试连接
func (s *Store) Connect(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	opts, err := s.clientOptions()
	if err != nil {
		return err
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		s.Logger().Error("Redis 连接测试失败", clog.String("addr", opts.Addr), clog.Err(err))
		_ = client.Close()
		return engineFailure("redis connection failed", err)
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	s.Logger().Info("Redis 连接成功", clog.String("addr", opts.Addr), clog.Bool("scored", s.cfg.ScoreKey != ""))
	return nil
}

func (s *Store) clientOptions() (*goredis.Options, error) {
	server := s.cfg.Servers[0]
	opts := &goredis.Options{Addr: server}
	if strings.HasPrefix(server, "redis://") || strings.HasPrefix(server, "rediss://") {
		parsed, err := goredis.ParseURL(server)
		if err != nil {
			return nil, backend.ConfigError("invalid redis url: " + err.Error())
		}
		opts = parsed
	}
	if s.cfg.Password != "" {
		opts.Password = s.cfg.Password
	}
	if s.cfg.DB != 0 {
		opts.DB = s.cfg.DB
	}
	opts.PoolSize = s.cfg.PoolSize
	opts.MinIdleConns = s.cfg.MinIdleConns
	opts.DialTimeout = s.cfg.DialTimeout
	opts.ReadTimeout = s.cfg.ReadTimeout
	opts.WriteTimeout = s.cfg.WriteTimeout
	return opts, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// Ping 检查连接是否正常
func (s *Store) Ping(ctx context.Context) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return engineFailure("redis ping failed", err)
	}
	return nil
}

func (s *Store) conn() (*goredis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, backend.ConfigError("not connected")
	}
	return s.client, nil
}

// scored 返回是否为有序模式；只配置了两个字段之一时返回 ConfigurationError
func (s *Store) scored() (bool, error) {
	hasScore, hasCorrelation := s.cfg.ScoreKey != "", s.cfg.CorrelationKey != ""
	if hasScore != hasCorrelation {
		return false, backend.ConfigError("score key and correlation key must be set together")
	}
	return hasScore, nil
}

func (s *Store) key(k string) string {
	return s.cfg.KeyPrefix + k
}

func (s *Store) queueKey() string {
	return s.key(s.Queue())
}

// engineFailure 将 Redis 错误包装为 OperationFailure，服务端错误的首个单词作为错误码（如 WRONGTYPE）
func engineFailure(msg string, err error) error {
	var redisErr goredis.Error
	if errors.As(err, &redisErr) {
		if fields := strings.Fields(redisErr.Error()); len(fields) > 0 {
			return backend.OperationFailureCode(fields[0], msg, err)
		}
	}
	return backend.OperationFailure(msg, err)
}
