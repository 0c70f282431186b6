package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ceyewan/queuekit/clog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAndRecovers(t *testing.T) {
	ctx := context.Background()
	b := New("redis:jobs", Policy{FailureThreshold: 2, SuccessThreshold: 1, OpenStateTimeout: 30 * time.Millisecond}, clog.Nop())
	boom := errors.New("boom")

	assert.ErrorIs(t, b.Do(ctx, func() error { return boom }), boom)
	assert.ErrorIs(t, b.Do(ctx, func() error { return boom }), boom)
	assert.Equal(t, "open", b.State())

	called := false
	err := b.Do(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)

	require.Eventually(t, func() bool { return b.State() == "half-open" }, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Do(ctx, func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	b := New("kafka:events", Policy{FailureThreshold: 2, OpenStateTimeout: time.Minute}, clog.Nop())
	boom := errors.New("boom")

	_ = b.Do(ctx, func() error { return boom })
	require.NoError(t, b.Do(ctx, func() error { return nil }))
	_ = b.Do(ctx, func() error { return boom })
	assert.Equal(t, "closed", b.State())
}

func TestBreakerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := New("redis:jobs", GetDefaultPolicy(), clog.Nop())
	assert.ErrorIs(t, b.Do(ctx, func() error { return nil }), context.Canceled)
}

func TestDisabledBreaker(t *testing.T) {
	b := New("off", Policy{}, nil)
	boom := errors.New("boom")
	for i := 0; i < 10; i++ {
		assert.ErrorIs(t, b.Do(context.Background(), func() error { return boom }), boom)
	}
	assert.Equal(t, "disabled", b.State())
}
