// internal/notifications/throttle.go - Per-checker notification rate limits
package notifications

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttler keeps one token bucket per checker.
type Throttler struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewThrottler(perMinute float64, burst int) *Throttler {
	return &Throttler{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perMinute / 60.0),
		burst:    max(1, burst),
	}
}

func (t *Throttler) Allow(checker string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[checker]
	if !ok {
		limiter = rate.NewLimiter(t.rate, t.burst)
		t.limiters[checker] = limiter
	}
	return limiter.Allow()
}

func (t *Throttler) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
