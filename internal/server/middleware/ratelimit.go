package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fleetgate/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client address. Buckets idle for
// longer than the TTL are swept from the table.
type RateLimiter struct {
	limit          rate.Limit
	burst          int
	ttl            time.Duration
	trustForwarded bool
	now            func() time.Time

	limiters sync.Map // client key -> *cachedLimiter

	mu        sync.Mutex
	nextSweep time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithTTL sets how long an idle client bucket is kept.
func WithTTL(ttl time.Duration) RateLimitOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithTrustForwarded keys clients by the last X-Forwarded-For hop, the one
// appended by the proxy in front of the server. Only enable it behind a proxy
// that sets the header.
func WithTrustForwarded(trust bool) RateLimitOption {
	return func(rl *RateLimiter) { rl.trustForwarded = trust }
}

// NewRateLimiter allows limit requests per second with the given burst per
// client. A limit of 0 means unlimited.
func NewRateLimiter(limit float64, burst int, opts ...RateLimitOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit: rate.Limit(limit),
		burst: burst,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RateLimit=0 means unlimited
			if rl.limit > 0 && !rl.limiterFor(rl.clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "too many requests",
					Code:  "429",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

func (c *cachedLimiter) idle(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(0, c.lastSeen.Load())) >= ttl
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()
	rl.sweep(now)

	for {
		if v, ok := rl.limiters.Load(key); ok {
			cached := v.(*cachedLimiter)
			if !cached.idle(now, rl.ttl) {
				cached.lastSeen.Store(now.UnixNano())
				return cached.limiter
			}
			fresh := rl.newCached(now)
			if rl.limiters.CompareAndSwap(key, cached, fresh) {
				return fresh.limiter
			}
			continue
		}

		// Concurrent first requests for a key all end up on one bucket.
		v, _ := rl.limiters.LoadOrStore(key, rl.newCached(now))
		return v.(*cachedLimiter).limiter
	}
}

func (rl *RateLimiter) newCached(now time.Time) *cachedLimiter {
	c := &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// sweep drops idle buckets, at most once per TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	if now.Before(rl.nextSweep) {
		rl.mu.Unlock()
		return
	}
	rl.nextSweep = now.Add(rl.ttl)
	rl.mu.Unlock()

	rl.limiters.Range(func(key, v any) bool {
		if cached := v.(*cachedLimiter); cached.idle(now, rl.ttl) {
			rl.limiters.CompareAndDelete(key, cached)
		}
		return true
	})
}

// size counts tracked buckets.
func (rl *RateLimiter) size() int {
	n := 0
	rl.limiters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// clientKey is the remote host, or the last X-Forwarded-For hop when the
// limiter trusts the proxy in front of it.
func (rl *RateLimiter) clientKey(r *http.Request) string {
	if rl.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
