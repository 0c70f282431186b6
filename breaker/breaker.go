// Package breaker 基于 sony/gobreaker 的熔断器，连续失败达到阈值后暂停调用后端。
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/queuekit/clog"
	"github.com/sony/gobreaker"
)

var ErrBreakerOpen = errors.New("circuit breaker is open")

// Policy 定义了熔断器的行为策略；FailureThreshold 为 0 时不熔断
type Policy struct {
	FailureThreshold int           `json:"failureThreshold" yaml:"failureThreshold"`
	SuccessThreshold int           `json:"successThreshold" yaml:"successThreshold"`
	OpenStateTimeout time.Duration `json:"openStateTimeout" yaml:"openStateTimeout"`
}

// GetDefaultPolicy 返回默认的熔断策略
func GetDefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenStateTimeout: 30 * time.Second,
	}
}

// Breaker 是熔断器的主接口
type Breaker interface {
	Do(ctx context.Context, op func() error) error
	State() string
}

// New 创建熔断器，name 用于日志，例如 "redis:jobs"
func New(name string, policy Policy, logger clog.Logger) Breaker {
	if policy.FailureThreshold <= 0 {
		return noopBreaker{}
	}
	if logger == nil {
		logger = clog.Module("breaker")
	}
	maxRequests := policy.SuccessThreshold
	if maxRequests <= 0 {
		maxRequests = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxRequests),
		Interval:    time.Minute, // 闭合状态下每分钟重置计数
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(policy.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("熔断器状态变化",
				clog.String("name", name),
				clog.String("from", from.String()),
				clog.String("to", to.String()))
		},
		Timeout: policy.OpenStateTimeout,
	})
	return &gobreakerAdapter{breaker: cb, name: name}
}

// gobreakerAdapter 是 sony/gobreaker 库的适配器
type gobreakerAdapter struct {
	breaker *gobreaker.CircuitBreaker
	name    string
}

// Do 执行受熔断器保护的操作
func (b *gobreakerAdapter) Do(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, b.name)
	}
	return err
}

func (b *gobreakerAdapter) State() string {
	return b.breaker.State().String()
}

// noopBreaker 直接执行操作
type noopBreaker struct{}

func (noopBreaker) Do(_ context.Context, op func() error) error { return op() }
func (noopBreaker) State() string                               { return "disabled" }
