package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter hands out one token bucket per caller.
type limiter struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	return &limiter{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*bucket)}
}

// allow reports whether key may make a request at now. Buckets idle for
// longer than a minute are dropped.
func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	if len(l.buckets) > 1024 {
		for k, other := range l.buckets {
			if now.Sub(other.seen) > time.Minute {
				delete(l.buckets, k)
			}
		}
	}
	return b.lim.AllowN(now, 1)
}
