package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/response"
)

type questionnaireService interface {
	Create(ctx context.Context, ownerID string, req dto.UpsertQuestionnaireRequest) (*models.Questionnaire, error)
	Update(ctx context.Context, ownerID, id string, req dto.UpsertQuestionnaireRequest) (*models.Questionnaire, error)
	Get(ctx context.Context, ownerID, id string) (*models.Questionnaire, error)
	List(ctx context.Context, ownerID string, page, size int) ([]models.Questionnaire, *models.Pagination, error)
}

// QuestionnaireHandler exposes questionnaire definitions.
type QuestionnaireHandler struct {
	service questionnaireService
}

// NewQuestionnaireHandler constructs the handler.
func NewQuestionnaireHandler(service questionnaireService) *QuestionnaireHandler {
	return &QuestionnaireHandler{service: service}
}

// Create godoc
// @Summary Create questionnaire
// @Tags Questionnaires
// @Accept json
// @Produce json
// @Param payload body dto.UpsertQuestionnaireRequest true "Questionnaire"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /questionnaires [post]
func (h *QuestionnaireHandler) Create(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var req dto.UpsertQuestionnaireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid questionnaire payload"))
		return
	}
	q, err := h.service.Create(c.Request.Context(), owner, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// List godoc
// @Summary List questionnaires
// @Tags Questionnaires
// @Produce json
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /questionnaires [get]
func (h *QuestionnaireHandler) List(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	page, err := intQuery(c, "page", 1)
	if err != nil {
		response.Error(c, err)
		return
	}
	size, err := intQuery(c, "pageSize", 20)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), owner, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get questionnaire
// @Tags Questionnaires
// @Produce json
// @Param id path string true "Questionnaire ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /questionnaires/{id} [get]
func (h *QuestionnaireHandler) Get(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	q, err := h.service.Get(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, q, nil)
}

// Update godoc
// @Summary Update questionnaire
// @Description Existing dispatches keep the snapshot taken when they were created.
// @Tags Questionnaires
// @Accept json
// @Produce json
// @Param id path string true "Questionnaire ID"
// @Param payload body dto.UpsertQuestionnaireRequest true "Questionnaire"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /questionnaires/{id} [put]
func (h *QuestionnaireHandler) Update(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var req dto.UpsertQuestionnaireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid questionnaire payload"))
		return
	}
	q, err := h.service.Update(c.Request.Context(), owner, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, q, nil)
}
