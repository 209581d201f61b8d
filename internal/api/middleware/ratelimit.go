package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter implements fixed-window rate limiting backed by Redis
// counters. Limits are keyed per client IP and endpoint pattern.
type RateLimiter struct {
	redis  *store.RedisStore
	logger zerolog.Logger
	limits map[string]RateLimit
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(redis *store.RedisStore, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /user/create": {10, time.Hour},
			"POST /user/login":  {20, time.Minute},
			"POST /chat":        {30, time.Minute},
			"POST /chat/*":      {60, time.Minute}, // messages and members
			"GET /chat":         {120, time.Minute},
			"GET /user/all":     {60, time.Minute},
		},
	}
}

// match resolves the limit for a request, or false when unlimited.
func (rl *RateLimiter) match(r *http.Request) (string, RateLimit, bool) {
	pattern := r.Method + " " + r.URL.Path
	if limit, ok := rl.limits[pattern]; ok {
		return pattern, limit, true
	}
	if r.Method == "POST" && strings.HasPrefix(r.URL.Path, "/chat/") {
		return "POST /chat/*", rl.limits["POST /chat/*"], true
	}
	if r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/chat") {
		return "GET /chat", rl.limits["GET /chat"], true
	}
	return "", RateLimit{}, false
}

// Middleware enforces the configured limits. Redis failures fail open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		pattern, limit, ok := rl.match(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		bucket := "ip:" + ip + ":" + pattern
		count, err := rl.redis.IncrementRateLimit(r.Context(), bucket, limit.Window)
		if err != nil {
			rl.logger.Warn().Err(err).Msg("rate limit check failed; allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if count > limit.Requests {
			metrics.RateLimitHits.WithLabelValues(pattern).Inc()
			rl.logger.Info().
				Str("ip", ip).
				Str("endpoint", pattern).
				Int("count", count).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", limit.Window.String())
			http.Error(w, `{"status":"error","message":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the request's remote IP. chi's RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
