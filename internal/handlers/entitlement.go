package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

type EntitlementHandler struct {
	svc *services.EntitlementService
}

func NewEntitlementHandler(svc *services.EntitlementService) *EntitlementHandler {
	return &EntitlementHandler{svc: svc}
}

// POST /api/entitlement
func (h *EntitlementHandler) Provision(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entitlement, created, err := h.svc.Provision(requestContext(c), userID)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, entitlement)
}

// GET /api/entitlement
func (h *EntitlementHandler) Status(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	status, err := h.svc.Status(requestContext(c), userID, currentAccount(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, http.StatusOK, status)
}
