package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitOptions configures the per-client rate limiter.
type RateLimitOptions struct {
	Requests int
	Window   time.Duration
	// Key picks the bucket for a request; defaults to the remote IP.
	Key func(*http.Request) string
	Now func() time.Time
}

// RateLimit enforces a token bucket per client. A zero Requests or
// Window disables limiting.
func RateLimit(opts RateLimitOptions) HTTPMiddleware {
	if opts.Requests <= 0 || opts.Window <= 0 {
		return nil
	}
	limiter := newLimiter(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(limiter.key(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds()+0.5)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	capacity     float64
	refillPerSec float64
	window       time.Duration
	key          func(*http.Request) string
	now          func() time.Time
	lastSweep    time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func newLimiter(opts RateLimitOptions) *limiter {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	key := opts.Key
	if key == nil {
		key = clientKey
	}
	return &limiter{
		buckets:      make(map[string]*tokenBucket),
		capacity:     float64(opts.Requests),
		refillPerSec: float64(opts.Requests) / opts.Window.Seconds(),
		window:       opts.Window,
		key:          key,
		now:          now,
		lastSweep:    now(),
	}
}

func (l *limiter) allow(client string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: l.capacity, last: now}
		l.buckets[client] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.refillPerSec)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets idle long enough to have refilled completely.
func (l *limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.last) >= l.window {
			delete(l.buckets, k)
		}
	}
}
