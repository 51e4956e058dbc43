package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"civitas/internal/platform/logger"
	"civitas/pkg/platform/httputil"
	"civitas/pkg/platform/middleware/metadata"
)

// ExceededResponse is the 429 body.
type ExceededResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	RetryAfter  int    `json:"retry_after"`
}

// Middleware limits requests per client IP. Limiter errors let the request
// through; an unavailable counter must not take the bus offline.
func Middleware(limiter Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			res, err := limiter.Allow(ctx, ip)
			if err != nil {
				log.ErrorContext(ctx, "rate limit check failed", "client_ip", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(res.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, ExceededResponse{
					Error:       "rate_limited",
					Description: "too many signals from this client, try again later",
					RetryAfter:  res.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
