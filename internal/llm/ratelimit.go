package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Veraticus/dompet/internal/common"
)

// rateLimiter is a token bucket refilled lazily from the clock.
// It starts full so a fresh process can burst up to the per-minute budget.
type rateLimiter struct {
	last      time.Time
	now       func() time.Time
	closed    chan struct{}
	tokens    float64
	capacity  float64
	interval  time.Duration
	mu        sync.Mutex
	closeOnce sync.Once
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &rateLimiter{
		now:      time.Now,
		last:     time.Now(),
		tokens:   float64(requestsPerMinute),
		capacity: float64(requestsPerMinute),
		interval: time.Minute / time.Duration(requestsPerMinute),
		closed:   make(chan struct{}),
	}
}

// wait blocks until a token is taken, the context ends or the limiter is closed.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		delay := rl.reserve()
		if delay == 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-rl.closed:
			timer.Stop()
			return fmt.Errorf("%w: client closed", common.ErrOracle)
		case <-timer.C:
		}
	}
}

// tryAcquire takes a token if one is available right now.
func (rl *rateLimiter) tryAcquire() bool {
	return rl.reserve() == 0
}

// reserve takes a token and returns 0, or returns how long until one is due.
func (rl *rateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(rl.last); elapsed > 0 {
		rl.tokens += float64(elapsed) / float64(rl.interval)
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}
	rl.last = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) * float64(rl.interval))
}

// Close wakes any waiter; later waits that would block fail.
func (rl *rateLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.closed) })
}
