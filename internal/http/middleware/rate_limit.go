package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bouclier/residence-access/internal/http/response"
	"github.com/bouclier/residence-access/internal/utils"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Requests int                            // max requests per window
	Window   time.Duration                  // window duration
	KeyFunc  func(r *http.Request) []string // generates rate limit keys
	SkipFunc func(r *http.Request) bool     // skips rate limiting when true
}

// RateLimiter counts requests per key in Redis over a fixed window.
type RateLimiter struct {
	client *redis.Client
	prefix string
	config RateLimitConfig
}

func NewRateLimiter(client *redis.Client, prefix string, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		config: config,
	}
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r.Context(), key) {
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Hash the key for privacy
	hasher := sha256.New()
	hasher.Write([]byte(key))
	redisKey := fmt.Sprintf("%s:%x", rl.prefix, hasher.Sum(nil))

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		// On Redis error, allow the request (fail open)
		return true
	}
	if count == 1 {
		rl.client.Expire(ctx, redisKey, rl.config.Window)
	}

	return count <= int64(rl.config.Requests)
}

// IPKeyFunc rate-limits by client IP.
func IPKeyFunc(r *http.Request) []string {
	if ip := clientIP(r); ip != "" {
		return []string{"ip:" + ip}
	}
	return nil
}

// OtpSendKeyFunc rate-limits code sends by client IP and by target email, so
// neither a single caller nor a single mailbox can be flooded. The body is
// restored for the handler after peeking the email.
func OtpSendKeyFunc(r *http.Request) []string {
	keys := IPKeyFunc(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return keys
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if email := utils.NormalizeEmail(payload.Email); email != "" {
			keys = append(keys, "email:"+email)
		}
	}
	return keys
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
