// Package worker 从队列消费任务：出队、登记为待处理、交给处理函数，失败时放回队尾。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/breaker"
	"github.com/ceyewan/queuekit/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/ceyewan/queuekit/worker"

// ErrStop 处理函数返回该错误时，任务被放回队列，所有消费协程退出
var ErrStop = errors.New("stop worker requested")

// Handler 处理一个任务；返回错误时任务会被放回队尾
type Handler func(ctx context.Context, jobID string, data any) error

// Config worker 配置
type Config struct {
	// Concurrency 处理协程数。出队在同一个 Worker 内串行执行，并发只作用于处理函数；
	// Kafka 后端每次出队最多阻塞 PollTimeout，需要并行拉取时应创建多个后端实例和 Worker
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// IdleBackoff 队列为空时的等待时间
	IdleBackoff time.Duration `json:"idleBackoff" yaml:"idleBackoff"`

	// ErrorBackoff 出队出错后的等待时间
	ErrorBackoff time.Duration `json:"errorBackoff" yaml:"errorBackoff"`

	// Breaker 出队熔断策略，FailureThreshold 为 0 时不熔断
	Breaker breaker.Policy `json:"breaker" yaml:"breaker"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Concurrency:  1,
		IdleBackoff:  200 * time.Millisecond,
		ErrorBackoff: time.Second,
		Breaker:      breaker.GetDefaultPolicy(),
	}
}

// Worker 队列消费者
type Worker struct {
	queue   backend.JobQueue
	handler Handler
	cfg     Config
	logger  clog.Logger
	breaker breaker.Breaker
	tracer  trace.Tracer

	// Pop 与 LastJob 必须成对读取，后端实例的最近任务状态是共享的。
	// 锁覆盖整个出队过程，其他协程在此期间等待
	popMu sync.Mutex
}

// New 创建 Worker，logger 为 nil 时使用 clog.Module("worker")
func New(queue backend.JobQueue, handler Handler, cfg Config, logger clog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = clog.Module("worker")
	}
	logger = logger.With(clog.String("backend", queue.Name()), clog.String("queue", queue.Queue()))
	return &Worker{
		queue:   queue,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		breaker: breaker.New(queue.Name()+":"+queue.Queue(), cfg.Breaker, logger),
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Run 启动消费协程，直到 ctx 取消或处理函数返回 ErrStop
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.loop(gctx, id)
		})
	}
	w.logger.Info("worker 已启动", clog.Int("concurrency", w.cfg.Concurrency))

	err := g.Wait()
	w.logger.Info("worker 已停止")
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, id int) error {
	logger := w.logger.With(clog.Int("worker_id", id))
	for {
		if ctx.Err() != nil {
			return nil
		}

		jobID, data, err := w.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, breaker.ErrBreakerOpen) {
				logger.Error("出队失败", clog.Err(err))
			}
			sleep(ctx, w.cfg.ErrorBackoff)
			continue
		}
		if data == nil {
			sleep(ctx, w.cfg.IdleBackoff)
			continue
		}

		if err := w.process(ctx, logger, jobID, data); err != nil {
			return err
		}
	}
}

// next 在熔断器保护下出队，并登记为待处理任务
func (w *Worker) next(ctx context.Context) (string, any, error) {
	w.popMu.Lock()
	defer w.popMu.Unlock()

	var data any
	err := w.breaker.Do(ctx, func() error {
		var popErr error
		data, popErr = w.queue.Pop(ctx)
		return popErr
	})
	if err != nil || data == nil {
		return "", nil, err
	}
	jobID, raw := w.queue.LastJob()
	w.queue.Track(jobID, raw)
	return jobID, data, nil
}

// process 在任务 span 内执行处理函数，放回队列也记录在同一个 span 上
func (w *Worker) process(ctx context.Context, logger clog.Logger, jobID string, data any) error {
	ctx, span := w.tracer.Start(ctx, "queuekit.job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("queuekit.backend", w.queue.Name()),
			attribute.String("queuekit.queue", w.queue.Queue()),
			attribute.String("queuekit.job_id", jobID),
		))
	defer span.End()

	err := w.handle(ctx, jobID, data)
	if err == nil {
		w.queue.Discard(jobID)
		logger.Debug("任务处理完成", clog.String("job_id", jobID))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("任务处理失败，放回队尾", clog.String("job_id", jobID), clog.Err(err))
	// 关闭过程中也要把任务放回去
	if relErr := w.queue.Release(context.WithoutCancel(ctx), jobID); relErr != nil {
		logger.Error("任务放回失败", clog.String("job_id", jobID), clog.Err(relErr))
		w.queue.Discard(jobID)
	}
	if errors.Is(err, ErrStop) {
		return ErrStop
	}
	return nil
}

// handle 调用处理函数，panic 视为处理失败
func (w *Worker) handle(ctx context.Context, jobID string, data any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, jobID, data)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
