package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/agent-router/internal/core/domain"
)

// RateLimiter throttles requests per caller with a token bucket each.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows perSecond requests with the given burst per caller.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return &RateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Middleware rejects requests over the limit with 429 and writes
// x-ratelimit-* headers on every response. Callers are keyed by API key id,
// or by remote address when auth is disabled.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if ac := GetAuth(r.Context()); ac != nil {
			key = ac.KeyID
		}

		lim := l.limiter(key)
		h := w.Header()
		h.Set("x-ratelimit-limit-requests", strconv.Itoa(l.burst))

		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			h.Set("x-ratelimit-remaining-requests", "0")
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			WriteError(w, r, domain.ErrRateLimit("too many runs, retry after "+delay.Round(time.Millisecond).String()))
			return
		}

		h.Set("x-ratelimit-remaining-requests", strconv.Itoa(int(lim.Tokens())))
		next.ServeHTTP(w, r)
	})
}
