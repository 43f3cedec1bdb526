package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/response"
)

const healthTimeout = 2 * time.Second

// Health reports readiness by pinging the primary database.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthTimeout)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			response.Error(c, apperrors.New("UNAVAILABLE", "Database unavailable", http.StatusServiceUnavailable))
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok", "checked_at": time.Now().UTC()})
	}
}
