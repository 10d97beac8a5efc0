package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerWindow int           // Number of requests allowed per window
	Window            time.Duration // Time window for rate limiting
	KeyPrefix         string        // Redis key prefix
}

// RateLimiter is a fixed-window request counter kept in Redis.
type RateLimiter struct {
	client *redis.Client
	config RateLimitConfig
}

// RateDecision is the outcome of one Allow call.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

func NewRateLimiter(client *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{client: client, config: config}
}

// Allow counts one request for clientID in the current window.
func (l *RateLimiter) Allow(ctx context.Context, clientID string) (RateDecision, error) {
	key := fmt.Sprintf("%s:%s", l.config.KeyPrefix, clientID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return RateDecision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	// The first hit opens the window
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return RateDecision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.config.Window
	}

	remaining := l.config.RequestsPerWindow - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return RateDecision{
		Allowed:   count <= int64(l.config.RequestsPerWindow),
		Remaining: remaining,
		ResetIn:   ttl,
	}, nil
}

// RateLimitMiddleware limits requests per client. Authenticated callers are keyed by
// subject, anonymous callers by address. Redis failures let the request through.
func RateLimitMiddleware(limiter *RateLimiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.RemoteAddr
			if principal, ok := GetPrincipal(r.Context()); ok {
				clientID = principal.Subject
			}

			decision, err := limiter.Allow(r.Context(), clientID)
			if err != nil {
				logger.Error("Rate limiter unavailable", zap.Error(err), zap.String("client_id", clientID))
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(limiter.config.RequestsPerWindow)
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(decision.ResetIn).Unix(), 10))

			if !decision.Allowed {
				logger.Warn("Rate limit exceeded",
					zap.String("client_id", clientID),
					zap.Int("limit", limiter.config.RequestsPerWindow),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.ResetIn.Seconds())))
				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
