package governance

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines the per-client token bucket.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts buckets of clients not seen for this long.
	IdleTTL time.Duration
}

// RateLimiter implements token bucket rate limiting per client key.
// A zero RequestsPerSecond disables limiting.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	config  RateLimiterConfig
	now     func() time.Time
	sweep   time.Time
}

// NewRateLimiter creates a rate limiter with the provided configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.BurstSize <= 0 {
		config.BurstSize = int(math.Max(1, math.Ceil(config.RequestsPerSecond)))
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  config,
		now:     time.Now,
	}
}

// Enabled reports whether any limit is configured.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.config.RequestsPerSecond > 0
}

// Allow takes a token for key. It returns the tokens left and, when the
// request is rejected, how long until a token becomes available.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Duration) {
	if !rl.Enabled() {
		return true, 0, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.evictIdle(now)

	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = bucket
	}
	return bucket.take(now, rl.config.RequestsPerSecond, float64(rl.config.BurstSize))
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	if now.Sub(rl.sweep) < rl.config.IdleTTL {
		return
	}
	rl.sweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) >= rl.config.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Middleware rejects requests over the limit with 429 and rate limit headers.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, retry := rl.Allow(ClientKey(r))
		WriteRateLimitHeaders(w, rl.config.BurstSize, remaining)
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"too many uploads, retry later"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by remote host.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

// tokenBucket implements a token bucket algorithm for rate limiting.
type tokenBucket struct {
	tokens     float64   // current available tokens
	lastRefill time.Time // last time tokens were refilled
}

// take refills the bucket for the elapsed time and consumes one token.
func (tb *tokenBucket) take(now time.Time, rate, capacity float64) (bool, int, time.Duration) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed > 0 {
		tb.tokens = math.Min(capacity, tb.tokens+elapsed*rate)
		tb.lastRefill = now
	}

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), 0
	}

	wait := time.Duration((1.0 - tb.tokens) / rate * float64(time.Second))
	return false, 0, wait
}
