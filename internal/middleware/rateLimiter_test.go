package middleware

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(burst int32, rate time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewRateLimiter(burst, rate)
	l.now = clock.Now
	l.lastTick = clock.Now().UnixNano()
	return l, clock
}

func TestRateLimiter_BurstThenRefill(t *testing.T) {
	req := require.New(t)
	l, clock := newTestLimiter(3, 100*time.Millisecond)

	// Given a full bucket
	for i := 0; i < 3; i++ {
		req.True(l.Allow(), "token %d", i)
	}

	// Then the fourth call within the same instant is rejected
	req.False(l.Allow())

	// When less than one refill interval passes
	clock.Advance(50 * time.Millisecond)
	req.False(l.Allow())

	// When the interval completes
	clock.Advance(50 * time.Millisecond)
	req.True(l.Allow())
	req.False(l.Allow())
}

func TestRateLimiter_RefillCapsAtBurst(t *testing.T) {
	req := require.New(t)
	l, clock := newTestLimiter(2, time.Second)

	req.True(l.Allow())
	req.True(l.Allow())

	clock.Advance(time.Hour)

	req.True(l.Allow())
	req.True(l.Allow())
	req.False(l.Allow())
}

func TestRateLimiter_ConcurrentCallersNeverOverspend(t *testing.T) {
	l, _ := newTestLimiter(10, time.Hour)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(10), granted.Load())
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	require.Equal(t, int32(DefaultBurst), l.burst)
	require.Equal(t, DefaultRefill, l.rate)
}
