package http

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter of inbound messages per connection.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	counter int
	window  time.Duration
	reset   *time.Ticker
}

func newRateLimiter(limit int) *rateLimiter {
	return newRateLimiterWindow(limit, time.Minute)
}

func newRateLimiterWindow(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		return &rateLimiter{limit: 0}
	}
	return &rateLimiter{
		limit:  limit,
		window: window,
		reset:  time.NewTicker(window),
	}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter <= r.limit
}

func (r *rateLimiter) startReset(stop <-chan struct{}) {
	if r == nil || r.reset == nil {
		return
	}
	go func() {
		for {
			select {
			case <-r.reset.C:
				r.mu.Lock()
				r.counter = 0
				r.mu.Unlock()
			case <-stop:
				r.reset.Stop()
				return
			}
		}
	}()
}
