package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/audit"
	apperrors "github.com/swiparr/swiparr-server/internal/errors"
	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/service"
)

// RateLimitMiddleware throttles requests per client IP with a shared Limiter.
// The name separates counters of different routes on the same limiter backend.
type RateLimitMiddleware struct {
	limiter service.Limiter
	name    string
}

func NewRateLimitMiddleware(limiter service.Limiter, name string) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter, name: name}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)
		decision := m.limiter.Allow(r.Context(), m.name+":"+ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			metrics.RateLimitRejections.WithLabelValues(m.name).Inc()
			log.Warn().Str("limiter", m.name).Str("ip", ip).Msg("rate limit exceeded")
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, Details: map[string]interface{}{"limiter": m.name}})
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
