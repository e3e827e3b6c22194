package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = addr
	return req
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	handler := NewRateLimiter(100, 200).Middleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	// First request should succeed (uses the burst)
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, requestFrom("10.0.0.1:5000"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	// Second request should be rate limited (burst exhausted)
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, requestFrom("10.0.0.1:5001"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if got := rr2.Header().Get("Retry-After"); got != "1" {
		t.Errorf("got Retry-After %q, want %q", got, "1")
	}
	if got := rr2.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("got Content-Type %q, want application/json", got)
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerClient(t *testing.T) {
	handler := NewRateLimiter(1, 1).Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:5000"))

	rrA := httptest.NewRecorder()
	handler.ServeHTTP(rrA, requestFrom("10.0.0.1:5000"))
	if rrA.Code != http.StatusTooManyRequests {
		t.Errorf("client A second request: got status %d, want %d", rrA.Code, http.StatusTooManyRequests)
	}

	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, requestFrom("10.0.0.2:5000"))
	if rrB.Code != http.StatusOK {
		t.Errorf("client B request: got status %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateLimitZero(t *testing.T) {
	handlerCallCount := 0
	handler := NewRateLimiter(0, 0).Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 10 {
		t.Errorf("expected 10 handler calls, got %d", handlerCallCount)
	}
}

func TestRateLimitMiddleware_ExpiredLimiterIsRebuilt(t *testing.T) {
	handler := NewRateLimiter(0.001, 1, WithTTL(time.Nanosecond)).Middleware()(okHandler())

	for i := range 3 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(1, 1, WithTTL(time.Minute))
	rl.now = func() time.Time { return clock }
	handler := rl.Middleware()(okHandler())

	for i := range 1000 {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom(fmt.Sprintf("10.0.%d.%d:5000", i/256, i%256)))
	}
	if got := rl.size(); got != 1000 {
		t.Fatalf("expected 1000 buckets, got %d", got)
	}

	clock = clock.Add(2 * time.Minute)
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1:5000"))

	if got := rl.size(); got != 1 {
		t.Errorf("expected idle buckets to be swept, %d remain", got)
	}
}

func TestRateLimiter_ActiveBucketSurvivesSweep(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(0.001, 1, WithTTL(time.Minute))
	rl.now = func() time.Time { return clock }
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:5000"))

	// Keep touching the bucket more often than the TTL.
	for range 3 {
		clock = clock.Add(40 * time.Second)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, requestFrom("10.0.0.1:5000"))
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("active client got a fresh bucket: status %d", rr.Code)
		}
	}
}

func TestRateLimiter_ConcurrentFirstRequestsShareBucket(t *testing.T) {
	handler := NewRateLimiter(0.001, 1).Middleware()(okHandler())

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, requestFrom("10.0.0.9:5000"))
			if rr.Code == http.StatusOK {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Errorf("expected exactly 1 request within burst, got %d", got)
	}
}

func TestRateLimiter_IgnoresSpoofedForwardedFor(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
	}{
		{"untrusted header", false},
		{"trusted proxy hop", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewRateLimiter(1, 1, WithTrustForwarded(tt.trust)).Middleware()(okHandler())

			allowed := 0
			for i := range 50 {
				req := requestFrom("10.0.0.1:5000")
				// The client controls the first hop; the proxy appends the last.
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d, 203.0.113.7", i))
				rr := httptest.NewRecorder()
				handler.ServeHTTP(rr, req)
				if rr.Code == http.StatusOK {
					allowed++
				}
			}
			if allowed != 1 {
				t.Errorf("allowed %d/50, want 1", allowed)
			}
		})
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"remote host", false, "192.0.2.1:1234", "", "192.0.2.1"},
		{"forwarded ignored by default", false, "10.0.0.1:80", "203.0.113.7", "10.0.0.1"},
		{"trusted last hop", true, "10.0.0.1:80", "198.51.100.4, 203.0.113.7", "203.0.113.7"},
		{"trusted without header", true, "192.0.2.1:1234", "", "192.0.2.1"},
		{"remote without port", false, "192.0.2.1", "", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewRateLimiter(1, 1, WithTrustForwarded(tt.trust))
			req := requestFrom(tt.remoteAddr)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := rl.clientKey(req); got != tt.want {
				t.Errorf("clientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
