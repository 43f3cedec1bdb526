package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("user_id", c.GetString(CtxUserIDKey)),
					zap.Any("error", r),
					zap.Stack("stack"),
				)
				// Avoid leaking internals to clients
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithDetails(map[string]any{
		"route": fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
	}))
}
