package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/famlink-backend/internal/http/response"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

type CheckInHandler struct {
	log            *logger.Logger
	checkInService services.CheckInService
}

func NewCheckInHandler(log *logger.Logger, checkInService services.CheckInService) *CheckInHandler {
	return &CheckInHandler{
		log:            log.With("handler", "CheckInHandler"),
		checkInService: checkInService,
	}
}

func (h *CheckInHandler) List(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	childID, err := uuidQuery(c, "child_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	states := c.QueryArray("state")
	limit := intQuery(c, "limit", 0)
	sessions, err := h.checkInService.List(c.Request.Context(), familyID, childID, states, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"checkins": sessions})
}

func (h *CheckInHandler) SubmitAnswer(c *gin.Context) {
	sessionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"question_id"`
		Value      string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	session, err := h.checkInService.SubmitAnswer(c.Request.Context(), sessionID, req.QuestionID, req.Value)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}

func (h *CheckInHandler) Cancel(c *gin.Context) {
	sessionID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	// The reason body is optional; cancel with none is fine.
	var req struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	session, err := h.checkInService.Cancel(c.Request.Context(), sessionID, req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}
