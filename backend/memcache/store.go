// Package memcache 基于 memcached 的键值存储。
//
// memcached 没有排序和键枚举能力，队列成员关系通过 "<queue>:contents" 索引维护。
// 该索引采用读-改-写方式更新，并发写入时可能丢失更新，只作为尽力而为的记录。
package memcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	gomemcache "github.com/bradfitz/gomemcache/memcache"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
)

// client 是 Store 使用的 memcached 操作子集，*gomemcache.Client 满足该接口
type client interface {
	Get(key string) (*gomemcache.Item, error)
	Set(item *gomemcache.Item) error
	Replace(item *gomemcache.Item) error
	Delete(key string) error
	Increment(key string, delta uint64) (uint64, error)
	Decrement(key string, delta uint64) (uint64, error)
	Ping() error
}

var _ client = (*gomemcache.Client)(nil)

// Store memcached 键值存储
type Store struct {
	*backend.Base
	cfg  Config
	dial func(cfg Config) client

	mu     sync.RWMutex
	client client
}

var (
	_ backend.Backend       = (*Store)(nil)
	_ backend.KeyValueStore = (*Store)(nil)
)

// New 创建 Store，需调用 Connect 后才能使用
func New(cfg Config, opts ...backend.Option) *Store {
	return &Store{
		Base: backend.NewBase("memcache", cfg.Queue, opts...),
		cfg:  cfg,
		dial: dialServers,
	}
}

func dialServers(cfg Config) client {
	c := gomemcache.New(cfg.Servers...)
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.MaxIdleConns > 0 {
		c.MaxIdleConns = cfg.MaxIdleConns
	}
	return c
}

// Connect 校验配置并创建客户端。gomemcache 按需建立连接，这里不做网络请求。
func (s *Store) Connect(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.client = s.dial(s.cfg)
	s.mu.Unlock()
	s.Logger().Info("memcached 客户端已创建", clog.Strings("servers", s.cfg.Servers))
	return nil
}

// Close 释放客户端引用
func (s *Store) Close() error {
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()
	return nil
}

// Ping 检查所有服务器是否可用
func (s *Store) Ping(ctx context.Context) error {
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := c.Ping(); err != nil {
		return backend.OperationFailure("memcached ping failed", err)
	}
	return nil
}

func (s *Store) conn() (client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, backend.ConfigError("not connected")
	}
	return s.client, nil
}

// Set 使用实例默认过期时间写入
func (s *Store) Set(ctx context.Context, key string, data any) error {
	return s.SetWithExpiry(ctx, key, data, 0)
}

// Add 兼容旧调用方式：expiry 传入结构化值（map、slice、struct）时视为未指定过期时间。
// 整数按秒处理。
func (s *Store) Add(ctx context.Context, key string, data any, expiry any) error {
	var d time.Duration
	switch v := expiry.(type) {
	case nil:
	case time.Duration:
		d = v
	case int:
		d = time.Duration(v) * time.Second
	case int32:
		d = time.Duration(v) * time.Second
	case int64:
		d = time.Duration(v) * time.Second
	default:
		switch reflect.ValueOf(expiry).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			s.Logger().Debug("expiry 为结构化值，按未指定处理", clog.String("key", key))
		default:
			return backend.ValidationError(fmt.Sprintf("invalid expiry %v", expiry))
		}
	}
	return s.SetWithExpiry(ctx, key, data, d)
}

// SetWithExpiry 写入键值，expiry > 0 时覆盖实例默认过期时间。
// 配置了队列时先将键记录到成员索引，再写入负载。
func (s *Store) SetWithExpiry(ctx context.Context, key string, data any, expiry time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if backend.IsEmpty(data) {
		return backend.ValidationError("no data")
	}
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := s.Hooks().BeforeAdd(ctx, key); err != nil {
		return err
	}
	raw, err := s.Encode(data)
	if err != nil {
		return err
	}

	if expiry <= 0 {
		expiry = s.cfg.Expiry
	}
	if s.Queue() != "" {
		if err := s.addToBucket(c, key); err != nil {
			return err
		}
	}
	return s.persist(c, key, raw, expirySeconds(expiry))
}

// persist 先 Replace，键不存在时回退到 Set，两者都失败返回 OperationFailure
func (s *Store) persist(c client, key string, raw []byte, expiration int32) error {
	value, flags, err := compress(s.cfg.Compression, s.cfg.CompressThreshold, raw)
	if err != nil {
		return backend.OperationFailure("unable to compress data", err)
	}
	item := &gomemcache.Item{Key: key, Value: value, Flags: flags, Expiration: expiration}
	if err := c.Replace(item); err == nil {
		return nil
	}
	if err := c.Set(item); err != nil {
		s.Logger().Error("写入 memcached 失败", clog.String("key", key), clog.Err(err))
		return backend.OperationFailure("unable to save data", err)
	}
	return nil
}

// fetch 读取并解压原始字节，键不存在返回 nil
func (s *Store) fetch(c client, key string) ([]byte, error) {
	item, err := c.Get(key)
	if errors.Is(err, gomemcache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.OperationFailure("unable to get data", err)
	}
	raw, err := decompress(item.Flags, item.Value)
	if err != nil {
		return nil, backend.UnsupportedTypeError("unable to decompress data", err)
	}
	return raw, nil
}

// Get 返回解码后的值，键不存在返回 nil
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, key); err != nil {
		return nil, err
	}
	raw, err := s.fetch(c, key)
	if err != nil {
		return nil, err
	}
	s.Hooks().AfterGet(ctx, key, raw != nil)
	return s.Decode(raw)
}

// Clear 删除负载，配置了队列时同时从成员索引中移除
func (s *Store) Clear(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c, err := s.conn()
	if err != nil {
		return false, err
	}
	if err := s.Hooks().BeforeClear(ctx, key); err != nil {
		return false, err
	}

	existed := true
	if err := c.Delete(key); err != nil {
		if !errors.Is(err, gomemcache.ErrCacheMiss) {
			return false, backend.OperationFailure("unable to delete data", err)
		}
		existed = false
	}
	s.SetLastJob(key, nil)

	if s.Queue() != "" {
		if err := s.removeFromBucket(c, key); err != nil {
			return existed, err
		}
	}
	s.Hooks().AfterClearRelease(ctx, key)
	return existed, nil
}

// IncrementBy 原子递增，键不存在返回 false
func (s *Store) IncrementBy(ctx context.Context, key string, n int64) (int64, bool, error) {
	if n < 0 {
		return s.counter(key, magnitude(n), false)
	}
	return s.counter(key, uint64(n), true)
}

// DecrementBy 原子递减，键不存在返回 false；memcached 的递减不会低于 0
func (s *Store) DecrementBy(ctx context.Context, key string, n int64) (int64, bool, error) {
	if n < 0 {
		return s.counter(key, magnitude(n), true)
	}
	return s.counter(key, uint64(n), false)
}

// magnitude 返回负数的绝对值，math.MinInt64 不会溢出
func magnitude(n int64) uint64 {
	return uint64(-(n + 1)) + 1
}

func (s *Store) counter(key string, delta uint64, incr bool) (int64, bool, error) {
	if err := validateKey(key); err != nil {
		return 0, false, err
	}
	c, err := s.conn()
	if err != nil {
		return 0, false, err
	}
	var v uint64
	if incr {
		v, err = c.Increment(key, delta)
	} else {
		v, err = c.Decrement(key, delta)
	}
	if errors.Is(err, gomemcache.ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, backend.OperationFailure("unable to update counter", err)
	}
	if v > math.MaxInt64 {
		return math.MaxInt64, true, nil
	}
	return int64(v), true, nil
}

// Exists 检查键是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	c, err := s.conn()
	if err != nil {
		return false, err
	}
	raw, err := s.fetch(c, key)
	return raw != nil, err
}

// validateKey 按 memcached 协议校验键：非空、不超过 250 字节、不含空白和控制字符
func validateKey(key string) error {
	if key == "" {
		return backend.ValidationError("invalid key")
	}
	if len(key) > 250 {
		return backend.ValidationError("key too long")
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return backend.ValidationError("key contains whitespace or control characters")
		}
	}
	return nil
}

// expirySeconds 转为 memcached 的过期值，不足一秒按一秒计。
// 超过 30 天的值会被 memcached 当作 Unix 时间戳，因此换算为绝对时间。
func expirySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs <= int64(bucketRetention) {
		return int32(secs)
	}
	// 绝对时间超出 int32 时取最大值
	if secs > math.MaxInt32-time.Now().Unix() {
		return math.MaxInt32
	}
	return int32(time.Now().Unix() + secs)
}
