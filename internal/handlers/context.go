package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/trialkit/internal/middleware"
	"github.com/charlesng35/trialkit/internal/services"
	apperrors "github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID returns the authenticated caller, writing a 401 when absent.
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

// currentAccount builds the billing view of the caller from the token claims.
func currentAccount(c *gin.Context) services.Account {
	return services.Account{
		Email: c.GetString(middleware.CtxEmailKey),
		Plan:  services.ParsePlan(c.GetString(middleware.CtxPlanKey)),
	}
}

// writeError renders err and logs anything that would surface as a server error.
func writeError(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	if appErr.StatusCode == 0 || appErr.StatusCode >= 500 {
		logger.WithModule("http").Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", c.GetString(middleware.CtxUserIDKey)),
			zap.Error(err),
		)
	}
	response.Error(c, err)
}
