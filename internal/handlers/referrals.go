package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

type ReferralHandler struct {
	svc *services.ReferralService
}

type bindReferralRequest struct {
	InviteCode string `json:"invite_code" validate:"required,max=32"`
}

type bindReferralResponse struct {
	Referral *models.Referral `json:"referral"`
	Created  bool             `json:"created"`
}

func NewReferralHandler(svc *services.ReferralService) *ReferralHandler {
	return &ReferralHandler{svc: svc}
}

// POST /api/referrals/bind
func (h *ReferralHandler) Bind(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body bindReferralRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.BindReferral(requestContext(c), userID, body.InviteCode)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	response.Success(c, status, bindReferralResponse{Referral: result.Referral, Created: result.Created})
}

// POST /api/referrals/check
func (h *ReferralHandler) Check(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	result, err := h.svc.CheckAndQualify(requestContext(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/referrals/stats
func (h *ReferralHandler) Stats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.svc.Stats(requestContext(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
