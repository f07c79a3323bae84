package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests   int  `json:"max_requests" yaml:"max_requests"`
	WindowSeconds int  `json:"window_seconds" yaml:"window_seconds"`
	Enabled       bool `json:"enabled" yaml:"enabled"`
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint rate limiting from an
// in-memory rule set fixed at construction. Endpoints are keyed
// "METHOD /path/pattern"; expired buckets are garbage collected
// periodically.
type RateLimiter struct {
	rules   map[string]RateLimitConfig
	buckets sync.Map
	exclude []string // path prefixes excluded from rate limiting
}

// NewRateLimiter creates a rate limiter with the given rules. Call
// StartGC to enable periodic bucket cleanup.
func NewRateLimiter(rules map[string]RateLimitConfig, excludePrefixes ...string) *RateLimiter {
	if rules == nil {
		rules = map[string]RateLimitConfig{}
	}
	return &RateLimiter{rules: rules, exclude: excludePrefixes}
}

// StartGC starts a background goroutine that drops expired buckets every
// five minutes. Stops when done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	cfg, ok := rl.rules[endpoint]
	if !ok || !cfg.Enabled {
		return true
	}

	key := ip + ":" + endpoint
	now := time.Now()

	val, loaded := rl.buckets.LoadOrStore(key, &bucket{
		count:   1,
		resetAt: now.Add(time.Duration(cfg.WindowSeconds) * time.Second),
	})
	if !loaded {
		return true
	}

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(time.Duration(cfg.WindowSeconds) * time.Second)
		return true
	}
	b.count++
	return b.count <= cfg.MaxRequests
}

// Middleware enforces rate limits with a 429 JSON response. The endpoint
// key is the method plus the chi route pattern when available, falling
// back to the raw path.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// Limit wraps a single handler with a dedicated rule, for endpoints that
// carry their own budget (protect/unprotect) regardless of route-level
// configuration.
func Limit(cfg RateLimitConfig, endpoint string, h http.HandlerFunc) http.HandlerFunc {
	rl := NewRateLimiter(map[string]RateLimitConfig{endpoint: cfg})
	return func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if rl.allow(ip, endpoint) {
			h(w, r)
			return
		}
		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	}
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return strings.TrimSpace(xff[:i])
			}
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
