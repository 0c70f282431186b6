package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ceyewan/queuekit/backend"
	"github.com/ceyewan/queuekit/clog"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, mr *miniredis.Miniredis, cfg Config, opts ...backend.Option) *Store {
	t.Helper()
	cfg.Servers = []string{mr.Addr()}
	s := New(cfg, append([]backend.Option{backend.WithLogger(clog.Nop())}, opts...)...)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestStore(t *testing.T, cfg Config, opts ...backend.Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return connect(t, mr, cfg, opts...), mr
}

func scoredConfig() Config {
	return Config{Queue: "jobs", ScoreKey: "ts", CorrelationKey: "id"}
}

// popTracked 出队并把任务记入待处理任务表，返回任务 ID
func popTracked(t *testing.T, s *Store) (any, string) {
	t.Helper()
	v, err := s.Pop(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v)
	id, raw := s.LastJob()
	s.Track(id, raw)
	return v, id
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	err := New(Config{Queue: "jobs"}, backend.WithLogger(clog.Nop())).Connect(ctx)
	assert.True(t, backend.IsConfigError(err))

	_, err = New(Config{Queue: "jobs"}, backend.WithLogger(clog.Nop())).Pop(ctx)
	assert.True(t, backend.IsConfigError(err), "operations before connect must fail")

	mr := miniredis.RunT(t)
	s := New(Config{Servers: []string{"redis://" + mr.Addr() + "/0"}, Queue: "jobs"}, backend.WithLogger(clog.Nop()))
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
}

func TestUnscoredFIFO(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Config{Queue: "jobs"})

	require.NoError(t, s.Push(ctx, map[string]any{"n": 1}))
	require.NoError(t, s.Push(ctx, []any{"two"}))
	require.NoError(t, s.Push(ctx, "three"))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	peeked, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 1.0}, peeked)

	for _, want := range []any{map[string]any{"n": 1.0}, []any{"two"}, "three"} {
		got, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	for i := 0; i < 2; i++ {
		got, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	got, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueueRequiresName(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Config{})

	assert.True(t, backend.IsConfigError(s.Push(ctx, "x")))
	_, err := s.Pop(ctx)
	assert.True(t, backend.IsConfigError(err))
	_, err = s.Peek(ctx)
	assert.True(t, backend.IsConfigError(err))
	assert.True(t, backend.IsConfigError(s.Release(ctx, "1")))
}

func TestScoredLiteralScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, scoredConfig())

	require.NoError(t, s.Push(ctx, map[string]any{"id": "a1", "ts": 100}))
	require.NoError(t, s.Push(ctx, map[string]any{"id": "a2", "ts": 50}))

	got, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "a2", "ts": 50.0}, got)

	got, err = s.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "a1", "ts": 100.0}, got)

	got, err = s.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScoredOrdering(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, scoredConfig())

	for i, score := range []int{5, 1, 3} {
		require.NoError(t, s.Push(ctx, map[string]any{"id": fmt.Sprintf("job-%d", i), "ts": score}))
	}

	peeked, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, peeked.(map[string]any)["ts"])

	var scores []float64
	for i := 0; i < 3; i++ {
		got, err := s.Pop(ctx)
		require.NoError(t, err)
		scores = append(scores, got.(map[string]any)["ts"].(float64))
	}
	assert.Equal(t, []float64{1, 3, 5}, scores)
	assert.False(t, mr.Exists("jobs"))
	assert.False(t, mr.Exists("job-1"), "payload keys are deleted with the member")
}

func TestScoredConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	s, mr := newTestStore(t, scoredConfig())
	err := s.Push(ctx, map[string]any{"ts": 1})
	assert.True(t, backend.IsConfigError(err))
	err = s.Push(ctx, map[string]any{"id": "x"})
	assert.True(t, backend.IsConfigError(err))
	assert.Empty(t, mr.Keys(), "no engine write before the correlation check")

	onlyScore := connect(t, mr, Config{Queue: "jobs", ScoreKey: "ts"})
	assert.True(t, backend.IsConfigError(onlyScore.Push(ctx, map[string]any{"id": "x", "ts": 1})))

	onlyCorrelation := connect(t, mr, Config{Queue: "jobs", CorrelationKey: "id"})
	assert.True(t, backend.IsConfigError(onlyCorrelation.Push(ctx, map[string]any{"id": "x", "ts": 1})))
}

func TestScoredExpiry(t *testing.T) {
	ctx := context.Background()
	cfg := scoredConfig()
	cfg.Expiry = time.Hour
	cfg.KeyPrefix = "app:"
	s, mr := newTestStore(t, cfg)

	require.NoError(t, s.Push(ctx, map[string]any{"id": "a1", "ts": 1}))
	assert.Equal(t, time.Hour, mr.TTL("app:a1"))
	score, err := mr.ZScore("app:jobs", "a1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	mr.FastForward(2 * time.Hour)
	got, err := s.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "expired payloads are skipped")
	assert.False(t, mr.Exists("app:jobs"))
}

func TestScoredExpiredHeadsDoNotExhaustRetries(t *testing.T) {
	ctx := context.Background()
	cfg := scoredConfig()
	cfg.Expiry = time.Minute
	cfg.MaxCASAttempts = 1
	s, mr := newTestStore(t, cfg)

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.Push(ctx, map[string]any{"id": id, "ts": i + 1}))
	}
	mr.FastForward(2 * time.Minute)
	require.NoError(t, s.Push(ctx, map[string]any{"id": "live", "ts": 10}))

	got, err := s.Pop(ctx)
	require.NoError(t, err)
	require.NotNil(t, got, "live payload behind expired members must be returned")
	assert.Equal(t, "live", got.(map[string]any)["id"])
	assert.False(t, mr.Exists("jobs"))
}

func TestReleaseAppendsAtTail(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Config{Queue: "jobs"})

	require.NoError(t, s.Push(ctx, "first"))
	got, id := popTracked(t, s)
	assert.Equal(t, "first", got)

	require.NoError(t, s.Push(ctx, "second"))
	require.NoError(t, s.Release(ctx, id))
	assert.Zero(t, s.OpenCount())
	assert.True(t, backend.IsMissingItemError(s.Release(ctx, id)))

	for _, want := range []string{"second", "first"} {
		got, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestScoredReleaseAppendsAtTail(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, scoredConfig())

	require.NoError(t, s.Push(ctx, map[string]any{"id": "x", "ts": 1}))
	require.NoError(t, s.Push(ctx, map[string]any{"id": "y", "ts": 2}))

	got, id := popTracked(t, s)
	assert.Equal(t, "x", got.(map[string]any)["id"])
	require.NoError(t, s.Release(ctx, id))

	score, err := mr.ZScore("jobs", "x")
	require.NoError(t, err)
	assert.Equal(t, 3.0, score)

	for _, want := range []string{"y", "x"} {
		got, err := s.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.(map[string]any)["id"])
	}
}

func TestConcurrentPopExclusive(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	consumers := []*Store{connect(t, mr, scoredConfig()), connect(t, mr, scoredConfig())}

	for round := 0; round < 20; round++ {
		require.NoError(t, consumers[0].Push(ctx, map[string]any{"id": fmt.Sprintf("r%d", round), "ts": round}))

		results := make([]any, len(consumers))
		var wg sync.WaitGroup
		for i, c := range consumers {
			wg.Add(1)
			go func(i int, c *Store) {
				defer wg.Done()
				v, err := c.Pop(ctx)
				assert.NoError(t, err)
				results[i] = v
			}(i, c)
		}
		wg.Wait()

		winners := 0
		for _, v := range results {
			if v != nil {
				winners++
			}
		}
		assert.Equal(t, 1, winners, "round %d", round)
	}
}

func TestCASExhaustion(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, scoredConfig())
	other := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	require.NoError(t, s.Push(ctx, map[string]any{"id": "a1", "ts": 1}))

	attempts := 0
	s.watchHook = func() {
		attempts++
		other.ZAdd(ctx, "jobs", goredis.Z{Score: float64(1000 + attempts), Member: fmt.Sprintf("noise-%d", attempts)})
	}

	got, err := s.Pop(ctx)
	require.NoError(t, err, "pop degrades to empty under contention")
	assert.Nil(t, got)
	assert.Equal(t, 3, attempts)
	_, err = mr.ZScore("jobs", "a1")
	assert.NoError(t, err, "item stays queued after an aborted pop")

	attempts = 0
	err = s.Push(ctx, map[string]any{"id": "a2", "ts": 2})
	assert.True(t, backend.IsOperationFailure(err), "push fails hard under contention")
	assert.True(t, errors.Is(err, goredis.TxFailedErr))
	assert.Equal(t, 3, attempts)
	assert.False(t, mr.Exists("a2"))
}

func TestKeyValue(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, Config{Queue: "jobs", Expiry: time.Minute})

	require.NoError(t, s.Set(ctx, "profile", map[string]any{"name": "ann", "tags": []any{"a"}, "age": 30}))
	assert.Equal(t, "hash", mr.Type("profile"))
	assert.Equal(t, time.Minute, mr.TTL("profile"))
	kind, err := s.Probe(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, KindMapping, kind)

	got, err := s.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ann", "tags": []any{"a"}, "age": 30.0}, got)

	field, err := s.GetField(ctx, "profile", "name")
	require.NoError(t, err)
	assert.Equal(t, "ann", field)
	field, err = s.GetField(ctx, "profile", "missing")
	require.NoError(t, err)
	assert.Nil(t, field)

	require.NoError(t, s.Set(ctx, "profile", map[string]any{"name": "bob"}))
	got, err = s.Get(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "bob"}, got, "set replaces the whole mapping")

	require.NoError(t, s.Set(ctx, "greeting", "hello"))
	assert.Equal(t, "string", mr.Type("greeting"))
	got, err = s.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = s.Get(ctx, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Push(ctx, "queued"))
	_, err = s.Get(ctx, "jobs")
	assert.True(t, backend.IsUnsupportedTypeError(err), "lists are not readable through get")

	assert.True(t, backend.IsValidationError(s.Set(ctx, "", "x")))
	assert.True(t, backend.IsValidationError(s.Set(ctx, "k", "")))
}

func TestCountersAndExists(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, Config{})

	require.NoError(t, s.Set(ctx, "hits", 5))
	v, ok, err := s.IncrementBy(ctx, "hits", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)

	v, ok, err = s.DecrementBy(ctx, "hits", 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(-3), v)

	_, ok, err = s.IncrementBy(ctx, "absent", 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("absent"), "increment must not create the key")

	exists, err := s.Exists(ctx, "hits")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Set(ctx, "word", "abc"))
	_, _, err = s.IncrementBy(ctx, "word", 1)
	assert.True(t, backend.IsOperationFailure(err))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, scoredConfig())

	require.NoError(t, s.Set(ctx, "k1", map[string]any{"ts": 4}))
	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ts": 4.0}, got)

	removed, err := s.Clear(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, mr.Exists("k1"))
	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	lastID, _ := s.LastJob()
	assert.Equal(t, "k1", lastID)

	removed, err = s.Clear(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, removed)
}

type denyGet struct {
	backend.NopHooks
}

func (denyGet) BeforeGet(context.Context, string) error { return errors.New("paused") }

func TestHooksGatePop(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	producer := connect(t, mr, Config{Queue: "jobs"})
	consumer := connect(t, mr, Config{Queue: "jobs"}, backend.WithHooks(denyGet{}))

	require.NoError(t, producer.Push(ctx, "x"))
	_, err := consumer.Pop(ctx)
	assert.EqualError(t, err, "paused")

	n, err := producer.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
