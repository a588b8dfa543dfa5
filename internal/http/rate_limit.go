package httpx

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Quota caps requests per key in fixed windows.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Decision is a limiter's verdict for one request.
type Decision struct {
	Allowed bool
	Count   int
	Reset   time.Time
}

// RateLimiter counts requests per key. Implementations must fail open.
type RateLimiter interface {
	Allow(ctx context.Context, key string, q Quota) Decision
	Close()
}

// rateRule ties a quota to the request attribute it is counted against.
type rateRule struct {
	Quota
	key func(*http.Request) string
}

var (
	ruleLogin  = rateRule{Quota{12, time.Minute}, rateLimitKeyIP}
	ruleRead   = rateRule{Quota{240, time.Minute}, rateLimitKeyIP}
	ruleWrite  = rateRule{Quota{60, time.Minute}, rateLimitKeyIP}
	ruleStream = rateRule{Quota{30, 30 * time.Second}, rateLimitKeyIP}
	ruleAdmin  = rateRule{Quota{60, time.Minute}, rateLimitKeyAdmin}
)

const memorySweepEvery = 5 * time.Minute

type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]Decision
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryRateLimiter returns a limiter local to this process.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{windows: map[string]Decision{}, now: time.Now}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, q Quota) Decision {
	if q.Limit <= 0 {
		return Decision{Allowed: true}
	}
	if q.Window <= 0 {
		q.Window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.After(rl.nextSweep) {
		rl.sweepLocked(now)
		rl.nextSweep = now.Add(memorySweepEvery)
	}

	w, ok := rl.windows[key]
	if !ok || !now.Before(w.Reset) {
		w = Decision{Reset: now.Add(q.Window)}
	}
	if w.Count >= q.Limit {
		return Decision{Allowed: false, Count: w.Count, Reset: w.Reset}
	}
	w.Count++
	w.Allowed = true
	rl.windows[key] = w
	return w
}

func (rl *memoryRateLimiter) sweepLocked(now time.Time) {
	for key, w := range rl.windows {
		if !now.Before(w.Reset) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}

// limited counts requests on route against rule before calling next.
func (r *Router) limited(route string, rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil || rule.Limit <= 0 {
			next(w, req)
			return
		}
		key := rule.key(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(req.Context(), route+"|"+key, rule.Quota)
		setRateHeaders(w.Header(), rule.Limit, decision)
		if !decision.Allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			if !decision.Reset.IsZero() {
				retry := int(time.Until(decision.Reset).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			}
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func setRateHeaders(h http.Header, limit int, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(limit-d.Count, 0)))
	if !d.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
}

func rateLimitKeyAdmin(req *http.Request) string {
	if subject, ok := adminFromContext(req.Context()); ok {
		return "admin:" + subject
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	if ip := clientIP(req); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// rateMetricKey keeps metric cardinality low by dropping the key value.
func rateMetricKey(key string) string {
	kind, _, found := strings.Cut(key, ":")
	if !found || kind == "" {
		return "unknown"
	}
	return kind
}

// clientIP trusts the first X-Forwarded-For hop, then the peer address.
func clientIP(req *http.Request) string {
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
