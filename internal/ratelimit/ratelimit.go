package ratelimit

import (
	"context"
	"sync"
	"time"

	"whalebot/internal/clock"
)

// Limiter is a fixed-window request budget per key. One Limiter is shared
// by all identities; each identity's REST client draws on its own key.
type Limiter struct {
	mu       sync.Mutex
	requests map[string]*requestInfo
	limit    int
	window   time.Duration
	clock    clock.Clock
}

type requestInfo struct {
	count   int
	resetAt time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return NewWithClock(limit, window, clock.Real{})
}

func NewWithClock(limit int, window time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
		clock:    clk,
	}
}

func (rl *Limiter) Allow(key string) bool {
	_, ok := rl.reserve(key)
	return ok
}

func (rl *Limiter) reserve(key string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	info, exists := rl.requests[key]
	if !exists || !now.Before(info.resetAt) {
		rl.requests[key] = &requestInfo{count: 1, resetAt: now.Add(rl.window)}
		return 0, true
	}

	if info.count >= rl.limit {
		return info.resetAt.Sub(now), false
	}

	info.count++
	return 0, true
}

// Wait blocks until key has budget in the current window.
func (rl *Limiter) Wait(ctx context.Context, key string) error {
	if rl == nil || rl.limit <= 0 {
		return ctx.Err()
	}
	for {
		wait, ok := rl.reserve(key)
		if ok {
			return nil
		}
		if err := rl.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}
