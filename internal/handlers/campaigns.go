package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

type CampaignHandler struct {
	svc *services.CampaignService
}

type campaignDTO struct {
	Key            string     `json:"key"`
	Name           string     `json:"name,omitempty"`
	Enabled        bool       `json:"enabled"`
	MaxSlots       int        `json:"max_slots"`
	ClaimedSlots   int        `json:"claimed_slots"`
	RemainingSlots int        `json:"remaining_slots"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
}

type claimResponse struct {
	Claimed        bool                `json:"claimed"`
	AlreadyClaimed bool                `json:"already_claimed"`
	Campaign       *campaignDTO        `json:"campaign,omitempty"`
	Grant          *models.RewardGrant `json:"grant,omitempty"`
}

func NewCampaignHandler(svc *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{svc: svc}
}

func mapCampaign(campaign *models.Campaign) *campaignDTO {
	if campaign == nil {
		return nil
	}
	return &campaignDTO{
		Key:            campaign.Key,
		Name:           campaign.Name,
		Enabled:        campaign.Enabled,
		MaxSlots:       campaign.MaxSlots,
		ClaimedSlots:   campaign.ClaimedSlots,
		RemainingSlots: campaign.RemainingSlots(),
		StartsAt:       campaign.StartsAt,
		EndsAt:         campaign.EndsAt,
	}
}

// GET /api/campaigns/:key
func (h *CampaignHandler) Get(c *gin.Context) {
	campaign, err := h.svc.Get(requestContext(c), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, mapCampaign(campaign))
}

// POST /api/campaigns/:key/claim
func (h *CampaignHandler) Claim(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.svc.ClaimSlot(requestContext(c), userID, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Claimed {
		status = http.StatusCreated
	}
	response.Success(c, status, claimResponse{
		Claimed:        result.Claimed,
		AlreadyClaimed: result.AlreadyClaimed,
		Campaign:       mapCampaign(result.Campaign),
		Grant:          result.Grant,
	})
}
