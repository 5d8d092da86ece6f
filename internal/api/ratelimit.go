package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a fixed window limiter keyed by client. Authorized devices
// are keyed by device id, everything else by remote IP.
type RateLimiter struct {
	mu           sync.Mutex
	requests     map[string]*bucket
	rate         int
	window       time.Duration
	maxCacheSize int
	now          func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows rate requests per window. A non-positive rate
// disables limiting.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests:     make(map[string]*bucket),
		rate:         rate,
		window:       window,
		maxCacheSize: 10000,
		now:          time.Now,
	}
}

// Allow checks if a request from the given client should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rate <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.requests[key]
	if !ok {
		if len(rl.requests) >= rl.maxCacheSize {
			rl.evictLocked(now)
		}
		rl.requests[key] = &bucket{tokens: rl.rate - 1, lastRefill: now}
		return true
	}

	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate - 1
		b.lastRefill = now
		return true
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// evictLocked drops stale entries, then an arbitrary tenth if still full.
func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, b := range rl.requests {
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.requests, key)
		}
	}
	if len(rl.requests) >= rl.maxCacheSize {
		toRemove := len(rl.requests) / 10
		for key := range rl.requests {
			if toRemove <= 0 {
				break
			}
			delete(rl.requests, key)
			toRemove--
		}
	}
}

// Run removes stale entries until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.requests {
				if now.Sub(b.lastRefill) > rl.window*2 {
					delete(rl.requests, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware wraps an HTTP handler with rate limiting
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := deviceID(r)
		if key == "" {
			key = clientIP(r)
		}
		if !rl.Allow(key) {
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// clientIP uses RemoteAddr only. X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
