package ratelimiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Config describes a token bucket. A zero Rate disables limiting.
type Config struct {
	// Rate is the sustained number of events per second.
	Rate float64 `mapstructure:"rate" validate:"gte=0"`

	// Burst is the bucket capacity. Defaults to twice the rate, at least 1.
	Burst int `mapstructure:"burst" validate:"gte=0"`
}

// RateLimiter throttles admissions using the token bucket algorithm.
//
// The HTTP adapter uses it to pace accepted connections before they are
// handed to the work queue, so a connection flood waits in the kernel
// backlog instead of piling up in memory.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled atomic.Bool
}

// New creates a RateLimiter from cfg.
//
// Example:
//
//	// Admit 500 connections/s sustained, bursts of 1000
//	limiter := New(Config{Rate: 500, Burst: 1000})
func New(cfg Config) *RateLimiter {
	if cfg.Rate <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	burst := cfg.Burst
	if burst == 0 {
		burst = max(int(cfg.Rate*2), 1)
	}

	r := &RateLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.Rate), burst)}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether the limiter ever delays callers.
func (r *RateLimiter) Enabled() bool {
	return r.enabled.Load()
}

// Allow consumes a token if one is available, without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// Returns the context error if ctx ends first.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if !r.enabled.Load() {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// SetRate changes the sustained rate. A zero rate disables limiting.
func (r *RateLimiter) SetRate(perSecond float64) {
	if perSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
		r.enabled.Store(false)
		return
	}
	r.limiter.SetLimit(rate.Limit(perSecond))
	if r.limiter.Burst() == 0 {
		r.limiter.SetBurst(max(int(perSecond*2), 1))
	}
	r.enabled.Store(true)
}

// Tokens returns the number of tokens currently in the bucket.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
