package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/internal/services"
	"github.com/charlesng35/trialkit/pkg/response"
)

type SurveyHandler struct {
	svc *services.EntitlementService
}

type completeSurveyRequest struct {
	SubmissionID string `json:"submission_id" validate:"required,max=128"`
}

type surveyResponse struct {
	Completed        bool                `json:"completed"`
	AlreadyCompleted bool                `json:"already_completed"`
	Grant            *models.RewardGrant `json:"grant,omitempty"`
}

func NewSurveyHandler(svc *services.EntitlementService) *SurveyHandler {
	return &SurveyHandler{svc: svc}
}

// POST /api/survey
func (h *SurveyHandler) Complete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var body completeSurveyRequest
	if !bindAndValidate(c, &body) {
		return
	}

	result, err := h.svc.CompleteSurvey(requestContext(c), userID, body.SubmissionID)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, surveyResponse{
		Completed:        result.Completed,
		AlreadyCompleted: result.AlreadyCompleted,
		Grant:            result.Grant,
	})
}
