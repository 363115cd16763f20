package middleware

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiterMiddleware holds the rate limiters for each admin.
type RateLimiterMiddleware struct {
	limiters map[int64]*rate.Limiter
	mu       sync.Mutex
	// Rate is the number of events per second.
	rate rate.Limit
	// Burst is the burst size.
	burst int
	log   zerolog.Logger
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware.
func NewRateLimiterMiddleware(r rate.Limit, b int, log zerolog.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		limiters: make(map[int64]*rate.Limiter),
		rate:     r,
		burst:    b,
		log:      log.With().Str("component", "ratelimit").Logger(),
	}
}

func (rl *RateLimiterMiddleware) limiter(id int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.limiters[id]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[id] = limiter
	}
	return limiter
}

// Middleware must run after Auth.
func (rl *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := AdminFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !rl.limiter(adminID).Allow() {
			rl.log.Warn().Int64("telegram_id", adminID).Msg("Rate limit exceeded")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
