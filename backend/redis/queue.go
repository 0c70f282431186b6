package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	goredis "github.com/redis/go-redis/v9"
)

// Push 入队。有序模式下负载必须包含关联字段和分值字段，缺失时在访问 Redis 前返回 ConfigurationError。
func (s *Store) Push(ctx context.Context, data any) error {
	if err := s.RequireQueue(); err != nil {
		return err
	}
	scored, err := s.scored()
	if err != nil {
		return err
	}
	if backend.IsEmpty(data) {
		return backend.ValidationError("no data")
	}
	c, err := s.conn()
	if err != nil {
		return err
	}
	if err := s.Hooks().BeforeAdd(ctx, ""); err != nil {
		return err
	}

	if !scored {
		raw, err := s.Encode(data)
		if err != nil {
			return err
		}
		if err := c.RPush(ctx, s.queueKey(), raw).Err(); err != nil {
			return engineFailure("unable to push", err)
		}
		return nil
	}

	member, ok := backend.FieldString(s.Codec(), data, s.cfg.CorrelationKey)
	if !ok {
		return backend.ConfigError(fmt.Sprintf("correlation key %q not found in payload", s.cfg.CorrelationKey))
	}
	score, ok := backend.FieldScore(s.Codec(), data, s.cfg.ScoreKey)
	if !ok {
		return backend.ConfigError(fmt.Sprintf("score key %q not found in payload", s.cfg.ScoreKey))
	}
	raw, err := s.Encode(data)
	if err != nil {
		return err
	}
	return s.casAdd(ctx, c, member, raw, fixedScore(score))
}

// scoreFunc 在事务内计算新成员的分值
type scoreFunc func(ctx context.Context, tx *goredis.Tx) (float64, error)

func fixedScore(score float64) scoreFunc {
	return func(context.Context, *goredis.Tx) (float64, error) { return score, nil }
}

// tailScore 返回当前最大分值加一，队列为空时使用 fallback
func (s *Store) tailScore(fallback float64) scoreFunc {
	return func(ctx context.Context, tx *goredis.Tx) (float64, error) {
		top, err := tx.ZRevRangeWithScores(ctx, s.queueKey(), 0, 0).Result()
		if err != nil {
			return 0, err
		}
		if len(top) == 0 {
			return fallback, nil
		}
		return top[0].Score + 1, nil
	}
}

// casAdd 在乐观事务中写入有序集合成员和负载。
// 冲突时重试，超过最大次数返回 OperationFailure。
func (s *Store) casAdd(ctx context.Context, c *goredis.Client, member string, raw []byte, scoreFn scoreFunc) error {
	queueKey := s.queueKey()
	maxAttempts := s.cfg.maxAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.Watch(ctx, func(tx *goredis.Tx) error {
			if s.watchHook != nil {
				s.watchHook()
			}
			score, err := scoreFn(ctx, tx)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.ZAdd(ctx, queueKey, goredis.Z{Score: score, Member: member})
				pipe.Set(ctx, s.key(member), raw, s.cfg.Expiry)
				return nil
			})
			return err
		}, queueKey)

		if err == nil {
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			s.Logger().Error("有序入队失败", clog.String("member", member), clog.Err(err))
			return engineFailure("unable to push", err)
		}
		s.Logger().Debug("有序入队事务冲突，重试", clog.String("member", member), clog.Int("attempt", attempt))
	}

	s.Logger().Warn("有序入队重试次数耗尽", clog.String("member", member), clog.Int("attempts", maxAttempts))
	return backend.OperationFailure(fmt.Sprintf("unable to push %q after %d attempts", member, maxAttempts), goredis.TxFailedErr)
}

// Pop 出队。空队列返回 nil；有序模式下事务冲突超过最大次数同样返回 nil，表示本轮没有可用任务。
func (s *Store) Pop(ctx context.Context) (any, error) {
	if err := s.RequireQueue(); err != nil {
		return nil, err
	}
	scored, err := s.scored()
	if err != nil {
		return nil, err
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, ""); err != nil {
		return nil, err
	}

	var raw []byte
	if scored {
		raw, err = s.casPop(ctx, c)
	} else {
		raw, err = c.LPop(ctx, s.queueKey()).Bytes()
		if errors.Is(err, goredis.Nil) {
			raw, err = nil, nil
		} else if err != nil {
			err = engineFailure("unable to pop", err)
		}
	}
	if err != nil {
		return nil, err
	}

	s.Hooks().AfterGet(ctx, "", raw != nil)
	if raw == nil {
		return nil, nil
	}
	s.Consumed(raw)
	return s.Decode(raw)
}

// casPop 在乐观事务中读取最小分值成员及其负载，并删除两者
func (s *Store) casPop(ctx context.Context, c *goredis.Client) ([]byte, error) {
	queueKey := s.queueKey()
	maxAttempts := s.cfg.maxAttempts()

	// 只有事务冲突计入重试次数；过期成员每次都会被移除，循环必然结束
	for conflicts := 0; conflicts < maxAttempts; {
		var (
			raw    []byte
			member string
		)
		err := c.Watch(ctx, func(tx *goredis.Tx) error {
			if s.watchHook != nil {
				s.watchHook()
			}
			members, err := tx.ZRange(ctx, queueKey, 0, 0).Result()
			if err != nil || len(members) == 0 {
				return err
			}
			member = members[0]
			raw, err = tx.Get(ctx, s.key(member)).Bytes()
			if errors.Is(err, goredis.Nil) {
				raw = nil
			} else if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.ZRem(ctx, queueKey, member)
				pipe.Del(ctx, s.key(member))
				return nil
			})
			return err
		}, queueKey)

		switch {
		case err == nil && member != "" && raw == nil:
			// 负载已过期，成员已移除，继续取下一个
			s.Logger().Warn("有序集合成员的负载已过期", clog.String("member", member))
			continue
		case err == nil:
			return raw, nil
		case errors.Is(err, goredis.TxFailedErr):
			conflicts++
			s.Logger().Debug("有序出队事务冲突，重试", clog.Int("attempt", conflicts))
			continue
		default:
			s.Logger().Error("有序出队失败", clog.Err(err))
			return nil, engineFailure("unable to pop", err)
		}
	}

	s.Logger().Debug("有序出队重试次数耗尽，本轮视为空队列", clog.Int("attempts", maxAttempts))
	return nil, nil
}

// Peek 返回队首元素但不移除
func (s *Store) Peek(ctx context.Context) (any, error) {
	if err := s.RequireQueue(); err != nil {
		return nil, err
	}
	scored, err := s.scored()
	if err != nil {
		return nil, err
	}
	c, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err := s.Hooks().BeforeGet(ctx, ""); err != nil {
		return nil, err
	}

	var raw []byte
	if scored {
		var members []string
		members, err = c.ZRange(ctx, s.queueKey(), 0, 0).Result()
		if err == nil && len(members) > 0 {
			raw, err = c.Get(ctx, s.key(members[0])).Bytes()
		}
	} else {
		raw, err = c.LIndex(ctx, s.queueKey(), 0).Bytes()
	}
	if errors.Is(err, goredis.Nil) {
		raw, err = nil, nil
	}
	if err != nil {
		return nil, engineFailure("unable to peek", err)
	}

	s.Hooks().AfterGet(ctx, "", raw != nil)
	return s.Decode(raw)
}

// Release 将待处理任务放回队尾。有序模式下分值取当前最大分值加一。
func (s *Store) Release(ctx context.Context, jobID string) error {
	if err := s.RequireQueue(); err != nil {
		return err
	}
	scored, err := s.scored()
	if err != nil {
		return err
	}
	c, err := s.conn()
	if err != nil {
		return err
	}
	raw, err := s.BeginRelease(ctx, jobID)
	if err != nil {
		return err
	}

	if scored {
		data, err := s.Decode(raw)
		if err != nil {
			return err
		}
		member, ok := backend.FieldString(s.Codec(), data, s.cfg.CorrelationKey)
		if !ok {
			return backend.ConfigError(fmt.Sprintf("correlation key %q not found in payload", s.cfg.CorrelationKey))
		}
		fallback, _ := backend.FieldScore(s.Codec(), data, s.cfg.ScoreKey)
		if err := s.casAdd(ctx, c, member, raw, s.tailScore(fallback)); err != nil {
			return err
		}
	} else if err := c.RPush(ctx, s.queueKey(), raw).Err(); err != nil {
		return engineFailure("unable to release", err)
	}

	s.FinishRelease(ctx, jobID, raw)
	return nil
}

// Len 返回队列长度
func (s *Store) Len(ctx context.Context) (int64, error) {
	if err := s.RequireQueue(); err != nil {
		return 0, err
	}
	scored, err := s.scored()
	if err != nil {
		return 0, err
	}
	c, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if scored {
		n, err = c.ZCard(ctx, s.queueKey()).Result()
	} else {
		n, err = c.LLen(ctx, s.queueKey()).Result()
	}
	if err != nil {
		return 0, engineFailure("unable to get queue length", err)
	}
	return n, nil
}
