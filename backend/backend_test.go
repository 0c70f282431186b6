package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n int }

func (s *seqIDs) NextID() string {
	s.n++
	return fmt.Sprintf("job-%d", s.n)
}

type gateHooks struct {
	NopHooks
	calls []string
	deny  error
}

func (h *gateHooks) BeforeAdd(_ context.Context, key string) error {
	h.calls = append(h.calls, "add:"+key)
	return h.deny
}

func (h *gateHooks) AfterClearRelease(_ context.Context, id string) {
	h.calls = append(h.calls, "done:"+id)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ConfigError("no servers specified"))
	assert.True(t, IsConfigError(err))
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.False(t, IsOperationFailure(err))
	assert.Equal(t, "wrapped: [CONFIGURATION_ERROR] no servers specified", err.Error())

	cause := errors.New("broker unreachable")
	opErr := OperationFailureCode("6", "NOT_LEADER_FOR_PARTITION", cause)
	assert.True(t, IsOperationFailure(opErr))
	assert.ErrorIs(t, opErr, cause)
	assert.ErrorIs(t, opErr, ErrOperation)
	assert.Contains(t, opErr.Error(), "code=6")

	assert.True(t, IsMissingItemError(MissingItemError("x")))
	assert.True(t, IsValidationError(ValidationError("empty key")))
	assert.True(t, IsUnsupportedTypeError(UnsupportedTypeError("set", nil)))
	assert.False(t, IsConfigError(nil))
}

func TestChainHooksGate(t *testing.T) {
	first := &gateHooks{}
	second := &gateHooks{deny: errors.New("rate limited")}
	third := &gateHooks{}
	hooks := ChainHooks(first, nil, second, third)

	err := hooks.BeforeAdd(context.Background(), "k")
	assert.EqualError(t, err, "rate limited")
	assert.Equal(t, []string{"add:k"}, first.calls)
	assert.Equal(t, []string{"add:k"}, second.calls)
	assert.Empty(t, third.calls)

	hooks.AfterClearRelease(context.Background(), "j1")
	assert.Equal(t, []string{"done:j1"}, third.calls)

	assert.Equal(t, NopHooks{}, ChainHooks())
	assert.Same(t, first, ChainHooks(first))
}

func TestIsEmpty(t *testing.T) {
	var nilMap map[string]any
	var nilPtr *struct{}
	cases := []struct {
		data  any
		empty bool
	}{
		{nil, true},
		{"", true},
		{[]byte{}, true},
		{map[string]any{}, true},
		{[]any{}, true},
		{nilMap, true},
		{nilPtr, true},
		{0, false},
		{false, false},
		{"x", false},
		{[]any{1}, false},
		{map[string]any{"a": 1}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.empty, IsEmpty(c.data), "%#v", c.data)
	}
}

func TestFieldExtraction(t *testing.T) {
	type job struct {
		ID    string `json:"id"`
		Score int    `json:"ts"`
	}
	codec := JSONCodec{}

	id, ok := FieldString(codec, job{ID: "a1", Score: 100}, "id")
	require.True(t, ok)
	assert.Equal(t, "a1", id)

	score, ok := FieldScore(codec, &job{ID: "a1", Score: 100}, "ts")
	require.True(t, ok)
	assert.Equal(t, 100.0, score)

	id, ok = FieldString(codec, map[string]any{"id": 42.0}, "id")
	require.True(t, ok)
	assert.Equal(t, "42", id)

	score, ok = FieldScore(codec, map[string]any{"ts": "12.5"}, "ts")
	require.True(t, ok)
	assert.Equal(t, 12.5, score)

	_, ok = FieldString(codec, map[string]any{"id": ""}, "id")
	assert.False(t, ok)
	_, ok = FieldString(codec, "scalar", "id")
	assert.False(t, ok)
	_, ok = FieldScore(codec, map[string]any{"ts": []any{1}}, "ts")
	assert.False(t, ok)

	score, ok = FieldScore(MsgpackCodec{}, map[string]any{"ts": int8(5)}, "ts")
	require.True(t, ok)
	assert.Equal(t, 5.0, score)
}

func TestCodecs(t *testing.T) {
	payload := map[string]any{"id": "a1", "name": "report"}
	for _, name := range []string{"json", "msgpack"} {
		codec, err := CodecByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, codec.Name())

		b := NewBase("test", "jobs", WithCodec(codec), WithIDSource(&seqIDs{}))
		raw, err := b.Encode(payload)
		require.NoError(t, err)
		decoded, err := b.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)
	}

	_, err := CodecByName("xml")
	assert.True(t, IsConfigError(err))

	b := NewBase("test", "jobs", WithIDSource(&seqIDs{}))
	_, err = b.Encode(make(chan int))
	assert.True(t, IsUnsupportedTypeError(err))
	_, err = b.Decode([]byte("{not json"))
	assert.True(t, IsOperationFailure(err))
	v, err := b.Decode(nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestBaseLifecycle(t *testing.T) {
	ctx := context.Background()
	hooks := &gateHooks{}
	b := NewBase("test", "jobs", WithHooks(hooks), WithIDSource(&seqIDs{}))

	require.NoError(t, b.RequireQueue())
	assert.True(t, IsConfigError(NewBase("test", "", WithIDSource(&seqIDs{})).RequireQueue()))

	id := b.Consumed([]byte(`{"a":1}`))
	assert.Equal(t, "job-1", id)
	lastID, lastRaw := b.LastJob()
	assert.Equal(t, "job-1", lastID)
	assert.Equal(t, []byte(`{"a":1}`), lastRaw)

	_, err := b.BeginRelease(ctx, "job-1")
	assert.True(t, IsMissingItemError(err))

	b.Track(id, lastRaw)
	assert.Equal(t, 1, b.OpenCount())
	raw, err := b.BeginRelease(ctx, id)
	require.NoError(t, err)
	b.FinishRelease(ctx, id, raw)
	assert.Equal(t, 0, b.OpenCount())
	assert.Equal(t, []string{"done:job-1"}, hooks.calls)

	b.Track("job-9", []byte("x"))
	assert.True(t, b.Discard("job-9"))
	assert.False(t, b.Discard("job-9"))
}
