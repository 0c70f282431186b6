package redis

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ceyewan/queuekit/backend"
	goredis "github.com/redis/go-redis/v9"
)

// Set 写入键值。有序模式下与 Push 走同一条事务路径，以 key 作为成员；
// 否则 map 写为哈希（每个字段单独编码），其他值写为字符串。
func (s *Store) Set(ctx context.Context, key string, data any) error {
	if key == "" {
		return backend.ValidationError("invalid key")
	}
	if backend.IsEmpty(data) {
		return backend.ValidationError("no data")
	}
	scored, err := s.scored()
	if err != nil {
		return err
	}
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := s.Hooks().BeforeAdd(ctx, key); err != nil {
		return err
	}

	if scored {
		if err := s.RequireQueue(); err != nil {
			return err
		}
		score, ok := backend.FieldScore(s.Codec(), data, s.cfg.ScoreKey)
		if !ok {
			return backend.ConfigError(fmt.Sprintf("score key %q not found in payload", s.cfg.ScoreKey))
		}
		raw, err := s.Encode(data)
		if err != nil {
			return err
		}
		return s.casAdd(ctx, c, key, raw, fixedScore(score))
	}

	if reflect.ValueOf(data).Kind() == reflect.Map {
		return s.setMapping(ctx, c, key, data)
	}
	raw, err := s.Encode(data)
	if err != nil {
		return err
	}
	if err := c.Set(ctx, s.key(key), raw, s.cfg.Expiry).Err(); err != nil {
		return engineFailure("unable to save data", err)
	}
	return nil
}

func (s *Store) setMapping(ctx context.Context, c *goredis.Client, key string, data any) error {
	fields, ok := backend.Fields(s.Codec(), data)
	if !ok {
		return backend.UnsupportedTypeError("mapping keys must be strings", nil)
	}
	values := make(map[string]any, len(fields))
	for field, v := range fields {
		raw, err := s.Encode(v)
		if err != nil {
			return err
		}
		values[field] = raw
	}

	_, err := c.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.key(key))
		pipe.HSet(ctx, s.key(key), values)
		if s.cfg.Expiry > 0 {
			pipe.Expire(ctx, s.key(key), s.cfg.Expiry)
		}
		return nil
	})
	if err != nil {
		return engineFailure("unable to save data", err)
	}
	return nil
}

// Get 返回解码后的值，键不存在返回 nil。
// 非有序模式下先用 TYPE 探测存储类型：字符串直接解码，哈希逐字段解码，其他类型返回 UnsupportedTypeError。
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	if key == "" {
		return nil, backend.ValidationError("invalid key")
	}
	scored, err := s.scored()
	if err != nil {
		return nil, err
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, key); err != nil {
		return nil, err
	}

	var v any
	if scored {
		v, err = s.getString(ctx, c, key)
	} else {
		v, err = s.getByKind(ctx, c, key)
	}
	if err != nil {
		return nil, err
	}
	s.Hooks().AfterGet(ctx, key, v != nil)
	return v, nil
}

// Probe 返回键的存储类型
func (s *Store) Probe(ctx context.Context, key string) (Kind, error) {
	c, err := s.conn()
	if err != nil {
		return KindAbsent, err
	}
	t, err := c.Type(ctx, s.key(key)).Result()
	if err != nil {
		return KindAbsent, engineFailure("unable to probe key type", err)
	}
	return kindOf(t), nil
}

func (s *Store) getByKind(ctx context.Context, c *goredis.Client, key string) (any, error) {
	kind, err := s.Probe(ctx, key)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindAbsent:
		return nil, nil
	case KindString:
		return s.getString(ctx, c, key)
	case KindMapping:
		return s.getMapping(ctx, c, key)
	case KindUnsupported:
		return nil, backend.UnsupportedTypeError(fmt.Sprintf("unsupported stored type for key %q", key), nil)
	}
	return nil, backend.UnsupportedTypeError(fmt.Sprintf("unknown kind %s", kind), nil)
}

func (s *Store) getString(ctx context.Context, c *goredis.Client, key string) (any, error) {
	raw, err := c.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, engineFailure("unable to get data", err)
	}
	return s.Decode(raw)
}

func (s *Store) getMapping(ctx context.Context, c *goredis.Client, key string) (any, error) {
	fields, err := c.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, engineFailure("unable to get data", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for field, raw := range fields {
		v, err := s.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[field] = v
	}
	return out, nil
}

// GetField 读取哈希中的单个字段，字段或键不存在返回 nil
func (s *Store) GetField(ctx context.Context, key, field string) (any, error) {
	if key == "" || field == "" {
		return nil, backend.ValidationError("invalid key")
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, key); err != nil {
		return nil, err
	}
	raw, err := c.HGet(ctx, s.key(key), field).Bytes()
	if errors.Is(err, goredis.Nil) {
		s.Hooks().AfterGet(ctx, key, false)
		return nil, nil
	}
	if err != nil {
		return nil, engineFailure("unable to get field", err)
	}
	s.Hooks().AfterGet(ctx, key, true)
	return s.Decode(raw)
}

// Clear 在一个事务批次中删除有序集合成员（有序模式）和负载，返回是否删除了内容
func (s *Store) Clear(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, backend.ValidationError("invalid key")
	}
	scored, err := s.scored()
	if err != nil {
		return false, err
	}
	c, err := s.conn()
	if err != nil {
		return false, err
	}
	if err := s.Hooks().BeforeClear(ctx, key); err != nil {
		return false, err
	}

	var zrem, del *goredis.IntCmd
	_, err = c.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if scored && s.Queue() != "" {
			zrem = pipe.ZRem(ctx, s.queueKey(), key)
		}
		del = pipe.Del(ctx, s.key(key))
		return nil
	})
	if err != nil {
		return false, engineFailure("unable to clear data", err)
	}

	removed := del.Val() > 0 || (zrem != nil && zrem.Val() > 0)
	s.SetLastJob(key, nil)
	s.Hooks().AfterClearRelease(ctx, key)
	return removed, nil
}

// IncrementBy 原子递增，键不存在返回 false 且不创建键
func (s *Store) IncrementBy(ctx context.Context, key string, n int64) (int64, bool, error) {
	return s.counter(ctx, key, func(c *goredis.Client) *goredis.IntCmd {
		return c.IncrBy(ctx, s.key(key), n)
	})
}

// DecrementBy 原子递减，键不存在返回 false 且不创建键
func (s *Store) DecrementBy(ctx context.Context, key string, n int64) (int64, bool, error) {
	return s.counter(ctx, key, func(c *goredis.Client) *goredis.IntCmd {
		return c.DecrBy(ctx, s.key(key), n)
	})
}

func (s *Store) counter(ctx context.Context, key string, op func(c *goredis.Client) *goredis.IntCmd) (int64, bool, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil || !exists {
		return 0, false, err
	}
	c, err := s.conn()
	if err != nil {
		return 0, false, err
	}
	v, err := op(c).Result()
	if err != nil {
		return 0, false, engineFailure("unable to update counter", err)
	}
	return v, true, nil
}

// Exists 检查键是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, backend.ValidationError("invalid key")
	}
	c, err := s.conn()
	if err != nil {
		return false, err
	}
	n, err := c.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, engineFailure("unable to check key", err)
	}
	return n > 0, nil
}
