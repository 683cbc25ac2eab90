package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterBurstThenRefill(t *testing.T) {
	now := time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)
	l := NewLocal(Config{Rate: 1, Burst: 2})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "hook-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
	}
	res, err := l.Allow(ctx, "hook-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)

	other, err := l.Allow(ctx, "hook-b")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys have separate budgets")

	now = now.Add(time.Second)
	res, err = l.Allow(ctx, "hook-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLocalLimiterRejectsBadSettings(t *testing.T) {
	_, err := NewLocal(Config{Rate: 0, Burst: 1}).Allow(context.Background(), "k")
	assert.Error(t, err)
	_, err = NewLocal(Config{Rate: 1, Burst: 1}).Allow(context.Background(), "")
	assert.Error(t, err)
}

func TestNewWithoutRedisIsLocal(t *testing.T) {
	_, ok := New(nil, Config{Rate: 1, Burst: 1}, nil).(*Local)
	assert.True(t, ok)
}

func TestLocalLockerLeases(t *testing.T) {
	now := time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)
	l := NewLocker(nil)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "channel:app1-cost", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "channel:app1-cost", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held lease blocks")

	require.NoError(t, l.Release(ctx, "channel:app1-cost", "someone-else"))
	_, ok, _ = l.TryLock(ctx, "channel:app1-cost", time.Minute)
	assert.False(t, ok, "foreign token does not release")

	require.NoError(t, l.Release(ctx, "channel:app1-cost", token))
	_, ok, _ = l.TryLock(ctx, "channel:app1-cost", time.Minute)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(ctx, "channel:app1-cost", time.Minute)
	assert.True(t, ok, "expired lease is taken over")
}

func TestRefillWait(t *testing.T) {
	assert.Zero(t, refillWait(true, 0, 1))
	assert.Equal(t, 500*time.Millisecond, refillWait(false, 0.5, 1))
	assert.Equal(t, 2*time.Second, refillWait(false, 0, 0.5))
}
