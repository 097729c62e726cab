package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDisabled(t *testing.T) {
	limiter := New(Config{})
	assert.False(t, limiter.Enabled())

	for i := 0; i < 10_000; i++ {
		require.True(t, limiter.Allow(), "disabled limiter rejected request %d", i)
	}
	assert.NoError(t, limiter.Wait(context.Background()))
}

func TestNewDefaultBurst(t *testing.T) {
	limiter := New(Config{Rate: 5})
	assert.True(t, limiter.Enabled())
	assert.InDelta(t, 10, limiter.Tokens(), 0.5)

	fractional := New(Config{Rate: 0.2})
	assert.InDelta(t, 1, fractional.Tokens(), 0.1)
}

func TestAllow(t *testing.T) {
	limiter := New(Config{Rate: 10, Burst: 10})

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should be allowed (within burst)", i)
	}
	assert.False(t, limiter.Allow(), "request should be rate-limited after burst exhausted")

	// 100ms at 10/s refills one token
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow(), "request should be allowed after token replenishment")
}

func TestWait(t *testing.T) {
	limiter := New(Config{Rate: 10, Burst: 1})
	require.NoError(t, limiter.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestWaitContextCancellation(t *testing.T) {
	limiter := New(Config{Rate: 1, Burst: 1})
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

func TestWaitDisabledHonorsCancelledContext(t *testing.T) {
	limiter := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

func TestSetRate(t *testing.T) {
	limiter := New(Config{})
	limiter.SetRate(10)
	assert.True(t, limiter.Enabled())

	limiter.SetRate(0)
	assert.False(t, limiter.Enabled())
	assert.True(t, limiter.Allow())
}

func BenchmarkAllow(b *testing.B) {
	limiter := New(Config{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow()
	}
}
