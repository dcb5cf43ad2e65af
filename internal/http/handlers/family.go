package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/famlink-backend/internal/domain/reports"
	"github.com/yungbote/famlink-backend/internal/http/response"
	"github.com/yungbote/famlink-backend/internal/platform/logger"
	"github.com/yungbote/famlink-backend/internal/services"
)

type FamilyHandler struct {
	log           *logger.Logger
	familyService services.FamilyService
}

func NewFamilyHandler(log *logger.Logger, familyService services.FamilyService) *FamilyHandler {
	return &FamilyHandler{
		log:           log.With("handler", "FamilyHandler"),
		familyService: familyService,
	}
}

func (h *FamilyHandler) Create(c *gin.Context) {
	var req struct {
		Name             string `json:"name"`
		Language         string `json:"language"`
		Timezone         string `json:"timezone"`
		CheckInLocalTime string `json:"check_in_local_time"`
		ReportWeekday    *int   `json:"report_weekday"`
		Tier             string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.familyService.Create(c.Request.Context(), services.CreateFamilyInput{
		Name:             req.Name,
		Language:         req.Language,
		Timezone:         req.Timezone,
		CheckInLocalTime: req.CheckInLocalTime,
		ReportWeekday:    req.ReportWeekday,
		Tier:             req.Tier,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) Get(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	view, err := h.familyService.Get(c.Request.Context(), familyID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) ListMine(c *gin.Context) {
	families, err := h.familyService.ListMine(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"families": families})
}

func (h *FamilyHandler) UpdateSettings(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Language         *string `json:"language"`
		Timezone         *string `json:"timezone"`
		CheckInLocalTime *string `json:"check_in_local_time"`
		ReportWeekday    *int    `json:"report_weekday"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.familyService.UpdateSettings(c.Request.Context(), familyID, services.UpdateSettingsInput{
		Language:         req.Language,
		Timezone:         req.Timezone,
		CheckInLocalTime: req.CheckInLocalTime,
		ReportWeekday:    req.ReportWeekday,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) ChangeSubscription(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Tier string `json:"tier"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.familyService.ChangeSubscription(c.Request.Context(), familyID, req.Tier)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) AddParent(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.familyService.AddParent(c.Request.Context(), familyID, req.Email, req.Role)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) AddChild(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Name      string   `json:"name"`
		BirthDate string   `json:"birth_date"`
		Traits    []string `json:"traits"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	birthDate, err := time.Parse(reports.DateLayout, req.BirthDate)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	view, err := h.familyService.AddChild(c.Request.Context(), familyID, services.AddChildInput{
		Name:      req.Name,
		BirthDate: birthDate,
		Traits:    req.Traits,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, view)
}

func (h *FamilyHandler) RemoveChild(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	childID, ok := uuidParam(c, "childId")
	if !ok {
		return
	}
	if err := h.familyService.RemoveChild(c.Request.Context(), familyID, childID); err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (h *FamilyHandler) Translations(c *gin.Context) {
	familyID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	childID, err := uuidQuery(c, "child_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	limit := intQuery(c, "limit", 0)
	offset := intQuery(c, "offset", 0)
	rows, err := h.familyService.Translations(c.Request.Context(), familyID, childID, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"translations": rows})
}

func (h *FamilyHandler) RecordFeedback(c *gin.Context) {
	requestID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rec, err := h.familyService.RecordFeedback(c.Request.Context(), requestID, req.Rating)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"translation": rec})
}
