package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter implements per-caller sliding window rate limiting.
// State is in memory, so each server instance enforces independently.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	mu          sync.Mutex
	users       map[string]*userWindow
}

type userWindow struct {
	timestamps []time.Time
	lastAccess time.Time
}

// NewRateLimiter creates a rate limiter with the given requests-per-second limit.
func NewRateLimiter(maxPerSecond int) *RateLimiter {
	rl := &RateLimiter{
		maxRequests: maxPerSecond,
		window:      time.Second,
		users:       make(map[string]*userWindow),
	}
	go rl.cleanup()
	return rl
}

// Allow checks if a request from the given caller is allowed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	uw, ok := rl.users[key]
	if !ok {
		uw = &userWindow{}
		rl.users[key] = uw
	}

	// Remove timestamps outside the window
	cutoff := now.Add(-rl.window)
	start := 0
	for start < len(uw.timestamps) && uw.timestamps[start].Before(cutoff) {
		start++
	}
	uw.timestamps = uw.timestamps[start:]
	uw.lastAccess = now

	if len(uw.timestamps) >= rl.maxRequests {
		return false
	}

	uw.timestamps = append(uw.timestamps, now)
	return true
}

// cleanup removes stale caller entries every 60 seconds.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-5 * time.Minute)
		for key, uw := range rl.users {
			if uw.lastAccess.Before(cutoff) {
				delete(rl.users, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns an HTTP middleware that applies rate limiting.
// Placed after Authorize it keys by subject, otherwise by client address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if authCtx := GetAuthContext(r.Context()); authCtx != nil {
			key = authCtx.Subject
		}

		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please slow down or use batch mode.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
