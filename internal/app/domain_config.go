package app

import (
	"strings"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/internal/services"
)

// DaysByType maps configured reward days onto ledger reward types. Zero values are
// omitted so the ledger defaults apply.
func (c RewardsConfig) DaysByType() map[models.RewardType]int {
	days := make(map[models.RewardType]int, 3)
	if c.Days.Signup > 0 {
		days[models.RewardSignupBonus] = c.Days.Signup
	}
	if c.Days.Survey > 0 {
		days[models.RewardSurveyBonus] = c.Days.Survey
	}
	if c.Days.Referral > 0 {
		days[models.RewardReferralBonus] = c.Days.Referral
	}
	return days
}

// Limits converts the configured plan limits into the quota service representation.
func (c QuotaConfig) Limits() services.QuotaLimits {
	return services.QuotaLimits{
		services.PlanFree:     c.Free.byType(),
		services.PlanStandard: c.Standard.byType(),
	}
}

func (p PlanLimitsConfig) byType() map[services.QuotaType]int64 {
	return map[services.QuotaType]int64{
		services.QuotaExperience:       p.Experience,
		services.QuotaESGeneration:     p.ESGeneration,
		services.QuotaInterviewSession: p.InterviewSession,
	}
}

// CampaignInputs converts configured campaigns into upsert inputs.
func (c *Config) CampaignInputs() []services.CampaignInput {
	inputs := make([]services.CampaignInput, 0, len(c.Campaigns))
	for _, campaign := range c.Campaigns {
		inputs = append(inputs, services.CampaignInput{
			Key:       strings.ToLower(strings.TrimSpace(campaign.Key)),
			Name:      strings.TrimSpace(campaign.Name),
			Enabled:   campaign.Enabled,
			MaxSlots:  campaign.MaxSlots,
			BonusDays: campaign.BonusDays,
			StartsAt:  campaign.StartsAt,
			EndsAt:    campaign.EndsAt,
		})
	}
	return inputs
}
