// Package ratelimit throttles login attempts per client address.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
)

// Limiter manages fixed-window token buckets for multiple keys
type Limiter struct {
	clock clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket refills to limit once interval has passed since the last refill
type bucket struct {
	tokens   int
	limit    int
	interval time.Duration
	lastFill time.Time
}

// NewLimiter creates a new rate limiter. A nil clock uses the process clock.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Default()
	}
	return &Limiter{
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

// Allow takes one token for key; limit tokens are available per interval.
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	return l.AllowN(key, limit, interval, 1)
}

// AllowN takes n tokens for key, or none if fewer are left.
func (l *Limiter) AllowN(key string, limit int, interval time.Duration, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: limit, limit: limit, interval: interval, lastFill: now}
		l.buckets[key] = b
	}
	if now.Sub(b.lastFill) >= b.interval {
		b.tokens = b.limit
		b.lastFill = now
	}
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// CleanupExpired removes buckets not refilled within maxAge.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
	}
}

// Run cleans up expired buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			l.CleanupExpired(maxAge)
		}
	}
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware answers 429 once a client exceeds limit requests per interval.
func (l *Limiter) Middleware(prefix string, limit int, interval time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(prefix+":"+ClientIP(r), limit, interval) {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Too many requests"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
