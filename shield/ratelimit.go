package shield

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitRule defines the limit for a single endpoint ("METHOD /path").
type RateLimitRule struct {
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window rate limiting.
// Endpoints without a rule are not limited. Call StartGC to drop expired
// buckets in the background.
type RateLimiter struct {
	rules   map[string]RateLimitRule
	buckets sync.Map
	logger  *slog.Logger
	proxies TrustedProxies
	now     func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTrustedProxies keys buckets on the forwarded client IP when the
// request comes through one of tp. Default: the TCP peer.
func WithTrustedProxies(tp TrustedProxies) RateLimiterOption {
	return func(rl *RateLimiter) { rl.proxies = tp }
}

// NewRateLimiter creates a rate limiter for the given endpoint rules. Rules
// with MaxRequests <= 0 or a non-positive window are ignored.
func NewRateLimiter(rules map[string]RateLimitRule, logger *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		rules:  make(map[string]RateLimitRule, len(rules)),
		logger: logger,
		now:    time.Now,
	}
	for ep, r := range rules {
		if r.MaxRequests > 0 && r.Window > 0 {
			rl.rules[ep] = r
		}
	}
	for _, o := range opts {
		o(rl)
	}
	return rl
}

// Enabled reports whether at least one rule is active.
func (rl *RateLimiter) Enabled() bool { return len(rl.rules) > 0 }

// StartGC garbage-collects expired buckets every interval until ctx is done.
func (rl *RateLimiter) StartGC(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := rl.now()
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

// allow records one request and reports whether it is within the limit,
// along with the time left in the current window.
func (rl *RateLimiter) allow(ip, endpoint string) (bool, time.Duration) {
	rule, ok := rl.rules[endpoint]
	if !ok {
		return true, 0
	}

	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+" "+endpoint, &bucket{resetAt: now.Add(rule.Window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}
	b.count++
	return b.count <= rule.MaxRequests, b.resetAt.Sub(now)
}

// Middleware enforces the rules. Blocked requests get 429 with a JSON
// {"detail": ...} body and a Retry-After header in seconds.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !rl.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.Method + " " + r.URL.Path
		ip := rl.proxies.ClientIP(r)

		ok, wait := rl.allow(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		secs := int(wait.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"detail": "Rate limit exceeded",
		})
	})
}
