package crawler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter enforces the politeness delay separately per host, so a
// mirror spanning several allowed hosts does not serialize across them.
type hostLimiter struct {
	delay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHostLimiter(delay time.Duration) *hostLimiter {
	return &hostLimiter{
		delay:    delay,
		limiters: make(map[string]*rate.Limiter),
	}
}

// wait blocks until the host's next request slot, or until the context
// is cancelled.
func (h *hostLimiter) wait(ctx context.Context, host string) error {
	if h.delay <= 0 {
		return nil
	}
	return h.limiterFor(host).Wait(ctx)
}

func (h *hostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.limiters[host]
	if !ok {
		// Burst 1: the first request goes out immediately, every later
		// one waits out the full delay.
		l = rate.NewLimiter(rate.Every(h.delay), 1)
		h.limiters[host] = l
	}
	return l
}
