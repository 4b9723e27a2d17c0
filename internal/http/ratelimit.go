package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
	"go.uber.org/zap"

	v1 "github.com/fyrsmithlabs/solvd/pkg/api/v1"
	"github.com/fyrsmithlabs/solvd/pkg/auth"
)

// callerLimiter keeps one token bucket per owner.
type callerLimiter struct {
	limit rate.Limit
	burst int

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// newCallerLimiter returns nil when perSecond is not positive.
func newCallerLimiter(perSecond float64, burst int) *callerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &callerLimiter{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *callerLimiter) allow(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop idle buckets hourly so the map does not grow without bound.
	if time.Since(l.lastCleanup) > time.Hour {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	lim, ok := l.limiters[owner]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[owner] = lim
	}
	return lim.Allow()
}

// rateLimit rejects submissions over the caller's rate with 429.
func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if s.limiter == nil {
			return next
		}
		return func(c echo.Context) error {
			owner := auth.OwnerID(c)
			if !s.limiter.allow(owner) {
				s.logger.Warn(c.Request().Context(), "submission rate limited", zap.String("owner_id", owner))
				c.Response().Header().Set("Retry-After", "1")
				return c.JSON(http.StatusTooManyRequests, v1.ErrorResponse{
					Code:    v1.CodeRateLimited,
					Message: "too many submissions, retry later",
				})
			}
			return next(c)
		}
	}
}
