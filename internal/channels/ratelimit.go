package channels

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the limiter map so rotating sender ids cannot
	// exhaust memory.
	maxTrackedKeys = 4096

	// inboundRate and inboundBurst bound per-sender traffic: sustained
	// one message per two seconds, bursts of ten.
	inboundRate  = rate.Limit(0.5)
	inboundBurst = 10
)

// keyedLimiter is a bounded map of per-key token buckets.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newKeyedLimiter() *keyedLimiter {
	return &keyedLimiter{limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether one event for key fits the budget.
func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= maxTrackedKeys {
			// Evict an arbitrary entry; a refilled bucket is the worst case.
			for victim := range k.limiters {
				delete(k.limiters, victim)
				break
			}
		}
		l = rate.NewLimiter(inboundRate, inboundBurst)
		k.limiters[key] = l
	}
	return l.Allow()
}
