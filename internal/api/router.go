package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/app"
	iauth "github.com/charlesng35/trialkit/internal/auth"
	"github.com/charlesng35/trialkit/internal/handlers"
	"github.com/charlesng35/trialkit/internal/middleware"
	"github.com/charlesng35/trialkit/internal/services"
)

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Entitlements *services.EntitlementService
	Campaigns    *services.CampaignService
	Referrals    *services.ReferralService
	Quotas       *services.QuotaService
}

func (s Services) validate() error {
	switch {
	case s.Entitlements == nil:
		return fmt.Errorf("entitlement service must be provided")
	case s.Campaigns == nil:
		return fmt.Errorf("campaign service must be provided")
	case s.Referrals == nil:
		return fmt.Errorf("referral service must be provided")
	case s.Quotas == nil:
		return fmt.Errorf("quota service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers the entitlement routes.
// A nil rateStore disables rate limiting.
func NewRouter(db *gorm.DB, jwt *iauth.JWTService, cfg *app.Config, svcs Services, rateStore middleware.RateStore) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := svcs.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/health", handlers.Health(db))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(jwt))
	// Limits are keyed per user, so they run after authentication.
	if rateStore != nil && cfg.Server.RateLimit.Enabled {
		api.Use(middleware.RateLimit(rateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))
	}

	registerEntitlementRoutes(api, svcs.Entitlements)
	registerCampaignRoutes(api, svcs.Campaigns)
	registerReferralRoutes(api, svcs.Referrals)
	registerQuotaRoutes(api, svcs.Quotas)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerEntitlementRoutes(api *gin.RouterGroup, svc *services.EntitlementService) {
	entitlements := handlers.NewEntitlementHandler(svc)
	api.POST("/entitlement", entitlements.Provision)
	api.GET("/entitlement", entitlements.Status)

	survey := handlers.NewSurveyHandler(svc)
	api.POST("/survey", survey.Complete)
}

func registerCampaignRoutes(api *gin.RouterGroup, svc *services.CampaignService) {
	handler := handlers.NewCampaignHandler(svc)
	group := api.Group("/campaigns")
	{
		group.GET("/:key", handler.Get)
		group.POST("/:key/claim", handler.Claim)
	}
}

func registerReferralRoutes(api *gin.RouterGroup, svc *services.ReferralService) {
	handler := handlers.NewReferralHandler(svc)
	group := api.Group("/referrals")
	{
		group.POST("/bind", handler.Bind)
		group.POST("/check", handler.Check)
		group.GET("/stats", handler.Stats)
	}
}

func registerQuotaRoutes(api *gin.RouterGroup, svc *services.QuotaService) {
	handler := handlers.NewQuotaHandler(svc)
	group := api.Group("/quota")
	{
		group.GET("/:type", handler.Check)
		group.POST("/:type/enforce", handler.Enforce)
	}
}
