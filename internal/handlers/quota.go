package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

type QuotaHandler struct {
	svc *services.QuotaService
}

func NewQuotaHandler(svc *services.QuotaService) *QuotaHandler {
	return &QuotaHandler{svc: svc}
}

// GET /api/quota/:type
func (h *QuotaHandler) Check(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quotaType, err := services.ParseQuotaType(c.Param("type"))
	if err != nil {
		writeError(c, err)
		return
	}

	status, err := h.svc.CheckQuota(requestContext(c), userID, currentAccount(c), quotaType)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}

// POST /api/quota/:type/enforce
// Writers call this right before inserting a gated row; the check runs under
// the per-user quota lock when one is configured.
func (h *QuotaHandler) Enforce(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	quotaType, err := services.ParseQuotaType(c.Param("type"))
	if err != nil {
		writeError(c, err)
		return
	}

	status, err := h.svc.Reserve(requestContext(c), userID, currentAccount(c), quotaType)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}
