package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/famlink-backend/internal/http/response"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

type MessageHandler struct {
	log                *logger.Logger
	translationService services.TranslationService
}

func NewMessageHandler(log *logger.Logger, translationService services.TranslationService) *MessageHandler {
	return &MessageHandler{
		log:                log.With("handler", "MessageHandler"),
		translationService: translationService,
	}
}

// Translate runs an inbound message through the request gate. Identical
// messages are answered from cache; fresh ones are charged against the
// family's daily quota.
func (h *MessageHandler) Translate(c *gin.Context) {
	var req struct {
		FamilyID uuid.UUID         `json:"family_id"`
		ChildID  *uuid.UUID        `json:"child_id"`
		Text     string            `json:"text"`
		Context  map[string]string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.translationService.Translate(c.Request.Context(), req.FamilyID, req.ChildID, req.Text, req.Context)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, result)
}
