package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/backend/redis"
	"github.com/ceyewan/queuekit/breaker"
	"github.com/ceyewan/queuekit/clog"
	"github.com/ceyewan/queuekit/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newQueue(t *testing.T) *redis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s := redis.New(redis.Config{Servers: []string{mr.Addr()}, Queue: "jobs"}, backend.WithLogger(clog.Nop()))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig(concurrency int) Config {
	return Config{Concurrency: concurrency, IdleBackoff: 5 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond}
}

func TestWorkerProcessesAndRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q := newQueue(t)

	for i := 0; i < 6; i++ {
		require.NoError(t, q.Push(ctx, map[string]any{"n": i}))
	}

	var (
		mu       sync.Mutex
		done     = make(map[float64]int)
		attempts = make(map[float64]int)
	)
	handler := func(_ context.Context, jobID string, data any) error {
		n := data.(map[string]any)["n"].(float64)
		mu.Lock()
		defer mu.Unlock()
		attempts[n]++
		if n == 2 && attempts[n] == 1 {
			return errors.New("transient")
		}
		if n == 4 && attempts[n] == 1 {
			panic("boom")
		}
		done[n]++
		if len(done) == 6 {
			cancel()
		}
		return nil
	}

	w := New(q, handler, testConfig(3), clog.Nop())
	require.NoError(t, w.Run(ctx))

	assert.Len(t, done, 6)
	for n, count := range done {
		assert.Equal(t, 1, count, "job %v handled once successfully", n)
	}
	assert.Equal(t, 2, attempts[2])
	assert.Equal(t, 2, attempts[4])
	assert.Zero(t, q.OpenCount(), "finished jobs leave the open-items table")
}

func TestWorkerStop(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t)
	require.NoError(t, q.Push(ctx, "stop-here"))

	w := New(q, func(context.Context, string, any) error {
		return fmt.Errorf("shutting down: %w", ErrStop)
	}, testConfig(2), clog.Nop())
	require.NoError(t, w.Run(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the job is released before stopping")
}

func TestWorkerIdleUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q := newQueue(t)

	called := false
	w := New(q, func(context.Context, string, any) error {
		called = true
		return nil
	}, testConfig(1), nil)
	require.NoError(t, w.Run(ctx))
	assert.False(t, called)
}

// failingQueue 每次出队都失败
type failingQueue struct {
	backend.JobQueue
	pops atomic.Int32
}

func (q *failingQueue) Name() string  { return "fake" }
func (q *failingQueue) Queue() string { return "jobs" }

func (q *failingQueue) Pop(context.Context) (any, error) {
	q.pops.Add(1)
	return nil, backend.OperationFailure("unable to pop", errors.New("connection refused"))
}

func TestWorkerBreakerStopsPolling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	q := &failingQueue{}
	cfg := testConfig(1)
	cfg.ErrorBackoff = time.Millisecond
	cfg.Breaker = breaker.Policy{FailureThreshold: 3, OpenStateTimeout: time.Minute}

	w := New(q, func(context.Context, string, any) error { return nil }, cfg, clog.Nop())
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(3), q.pops.Load(), "an open breaker skips the engine")
}

// serialQueue 记录同时进行的出队数，每次出队返回一个新任务
type serialQueue struct {
	backend.JobQueue
	inPop  atomic.Int32
	maxPop atomic.Int32
	seq    atomic.Int32

	mu   sync.Mutex
	last string
}

func (q *serialQueue) Name() string  { return "fake" }
func (q *serialQueue) Queue() string { return "jobs" }

func (q *serialQueue) Pop(context.Context) (any, error) {
	n := q.inPop.Add(1)
	defer q.inPop.Add(-1)
	for {
		m := q.maxPop.Load()
		if n <= m || q.maxPop.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	q.mu.Lock()
	q.last = fmt.Sprintf("job-%d", q.seq.Add(1))
	q.mu.Unlock()
	return "payload", nil
}

func (q *serialQueue) LastJob() (string, []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last, []byte(`"payload"`)
}

func (q *serialQueue) Track(string, []byte)                  {}
func (q *serialQueue) Discard(string) bool                   { return true }
func (q *serialQueue) Release(context.Context, string) error { return nil }

func TestWorkerSerializesPopsButNotHandlers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	q := &serialQueue{}
	var (
		inflight atomic.Int32
		once     sync.Once
		ids      sync.Map
	)
	overlapped := make(chan struct{})
	handler := func(ctx context.Context, jobID string, _ any) error {
		_, dup := ids.LoadOrStore(jobID, struct{}{})
		assert.False(t, dup, "job %s handed out twice", jobID)
		if inflight.Add(1) >= 2 {
			once.Do(func() { close(overlapped) })
		}
		defer inflight.Add(-1)
		select {
		case <-overlapped:
		case <-ctx.Done():
		}
		return ErrStop
	}

	require.NoError(t, New(q, handler, testConfig(3), clog.Nop()).Run(ctx))
	select {
	case <-overlapped:
	default:
		t.Fatal("handlers never ran concurrently")
	}
	assert.Equal(t, int32(1), q.maxPop.Load(), "pops are serialized")
}

func TestWorkerJobSpan(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	q := redis.New(redis.Config{Servers: []string{mr.Addr()}, Queue: "jobs"},
		backend.WithLogger(clog.Nop()), backend.WithHooks(metrics.NewTracingHooks("redis", "jobs")))
	require.NoError(t, q.Connect(ctx))
	t.Cleanup(func() { _ = q.Close() })
	require.NoError(t, q.Push(ctx, "x"))

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	w := New(q, func(ctx context.Context, _ string, _ any) error {
		assert.True(t, trace.SpanFromContext(ctx).IsRecording(), "handler runs inside the job span")
		return ErrStop
	}, testConfig(1), clog.Nop())
	w.tracer = tp.Tracer("test")
	require.NoError(t, w.Run(ctx))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "queuekit.job", spans[0].Name())
	assert.Equal(t, trace.SpanKindConsumer, spans[0].SpanKind())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	var events []string
	for _, ev := range spans[0].Events() {
		events = append(events, ev.Name)
	}
	assert.Contains(t, events, "queuekit.release")
	assert.Contains(t, events, "queuekit.clear_release.done")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "stopped job is back in the queue")
}
