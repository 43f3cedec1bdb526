package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/response"
)

// RateLimit limits requests per (caller, route) within window. Authenticated callers
// are keyed by user id, anonymous ones by client IP. Store failures fail open.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		caller := c.GetString(CtxUserIDKey)
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := "ratelimit:" + caller + "|" + c.Request.Method + " " + route

		decision, err := store.Allow(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(decision.ResetIn.Seconds()))))

		if !decision.Allowed {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
