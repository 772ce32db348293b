package middleware

import (
	"sync/atomic"
	"time"
)

const (
	DefaultBurst  = 5
	DefaultRefill = 500 * time.Millisecond
)

// RateLimiter is a lock-free token bucket. It starts full.
type RateLimiter struct {
	tokens   int32
	burst    int32
	rate     time.Duration
	lastTick int64
	now      func() time.Time
}

func NewRateLimiter(burst int32, rate time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = DefaultBurst
	}
	if rate <= 0 {
		rate = DefaultRefill
	}
	return &RateLimiter{
		tokens:   burst,
		burst:    burst,
		rate:     rate,
		lastTick: time.Now().UnixNano(),
		now:      time.Now,
	}
}

func (l *RateLimiter) Allow() bool {
	l.refill(l.now().UnixNano())

	for {
		current := atomic.LoadInt32(&l.tokens)
		if current <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.tokens, current, current-1) {
			return true
		}
	}
}

func (l *RateLimiter) refill(now int64) {
	last := atomic.LoadInt64(&l.lastTick)
	generated := (now - last) / int64(l.rate)
	if generated <= 0 {
		return
	}

	// only the goroutine that advances the tick credits the tokens
	if !atomic.CompareAndSwapInt64(&l.lastTick, last, last+generated*int64(l.rate)) {
		return
	}

	add := int32(min(generated, int64(l.burst)))
	for {
		current := atomic.LoadInt32(&l.tokens)
		next := min(current+add, l.burst)
		if atomic.CompareAndSwapInt32(&l.tokens, current, next) {
			return
		}
	}
}
