package api

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/app"
	"github.com/charlesng35/trialkit/internal/services"
)

// ServiceDeps carries the optional collaborators shared by the domain services.
type ServiceDeps struct {
	Tracker services.EventTracker
	Locker  services.Locker
}

// NewServices wires the ledger and the services built on top of it from configuration.
func NewServices(db *gorm.DB, cfg *app.Config, deps ServiceDeps) (Services, error) {
	if cfg == nil {
		return Services{}, fmt.Errorf("config must be provided")
	}

	resolver := services.NewPlanResolver(cfg.Plans.AdminEmails)

	ledgerOpts := []services.RewardLedgerOption{services.WithRewardDays(cfg.Rewards.DaysByType())}
	if deps.Tracker != nil {
		ledgerOpts = append(ledgerOpts, services.WithRewardTracker(deps.Tracker))
	}
	ledger, err := services.NewRewardLedger(db, ledgerOpts...)
	if err != nil {
		return Services{}, fmt.Errorf("reward ledger: %w", err)
	}

	usage, err := services.NewUsageCounter(db)
	if err != nil {
		return Services{}, fmt.Errorf("usage counter: %w", err)
	}

	entOpts := []services.EntitlementOption{services.WithEntitlementPlanResolver(resolver)}
	campaignOpts := []services.CampaignOption{}
	referralOpts := []services.ReferralOption{services.WithReferralCap(cfg.Rewards.ReferralCap)}
	if deps.Tracker != nil {
		entOpts = append(entOpts, services.WithEntitlementTracker(deps.Tracker))
		campaignOpts = append(campaignOpts, services.WithCampaignTracker(deps.Tracker))
		referralOpts = append(referralOpts, services.WithReferralTracker(deps.Tracker))
	}

	entitlements, err := services.NewEntitlementService(db, ledger, entOpts...)
	if err != nil {
		return Services{}, fmt.Errorf("entitlement service: %w", err)
	}
	campaigns, err := services.NewCampaignService(db, ledger, campaignOpts...)
	if err != nil {
		return Services{}, fmt.Errorf("campaign service: %w", err)
	}
	referrals, err := services.NewReferralService(db, ledger, usage, referralOpts...)
	if err != nil {
		return Services{}, fmt.Errorf("referral service: %w", err)
	}

	quotaOpts := []services.QuotaOption{
		services.WithQuotaLimits(cfg.Quota.Limits()),
		services.WithPlanResolver(resolver),
	}
	if deps.Locker != nil {
		quotaOpts = append(quotaOpts, services.WithQuotaLocker(deps.Locker))
	}
	quotas, err := services.NewQuotaService(db, usage, quotaOpts...)
	if err != nil {
		return Services{}, fmt.Errorf("quota service: %w", err)
	}

	return Services{
		Entitlements: entitlements,
		Campaigns:    campaigns,
		Referrals:    referrals,
		Quotas:       quotas,
	}, nil
}
