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

type dispatchService interface {
	CreateBatch(ctx context.Context, ownerID string, req dto.CreateDispatchRequest) (*dto.DispatchBatchResult, error)
	List(ctx context.Context, ownerID string, query dto.DispatchListQuery) ([]dto.DispatchView, *models.Pagination, error)
	Get(ctx context.Context, ownerID, id string) (*dto.DispatchView, error)
	IssueLink(ctx context.Context, ownerID, id string) (*dto.DispatchLinkResponse, error)
}

// DispatchHandler exposes batch creation and dispatch history.
type DispatchHandler struct {
	service dispatchService
}

// NewDispatchHandler constructs the handler.
func NewDispatchHandler(service dispatchService) *DispatchHandler {
	return &DispatchHandler{service: service}
}

// Create godoc
// @Summary Dispatch a questionnaire to a batch of recipients
// @Description Recipients is free text separated by commas, semicolons or whitespace. Per-recipient failures are reported in outcomes.
// @Tags Dispatches
// @Accept json
// @Produce json
// @Param payload body dto.CreateDispatchRequest true "Batch"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /dispatches [post]
func (h *DispatchHandler) Create(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid dispatch payload"))
		return
	}
	result, err := h.service.CreateBatch(c.Request.Context(), owner, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary Dispatch history
// @Tags Dispatches
// @Produce json
// @Param status query string false "Status filter"
// @Param hasRecipient query bool false "Only addressed (true) or generic (false) dispatches"
// @Param recipient query string false "Recipient email"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /dispatches [get]
func (h *DispatchHandler) List(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var query dto.DispatchListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), owner, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get dispatch
// @Tags Dispatches
// @Produce json
// @Param id path string true "Dispatch ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /dispatches/{id} [get]
func (h *DispatchHandler) Get(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	view, err := h.service.Get(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// IssueLink godoc
// @Summary Issue a patient link for a dispatch
// @Tags Dispatches
// @Produce json
// @Param id path string true "Dispatch ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /dispatches/{id}/link [post]
func (h *DispatchHandler) IssueLink(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	link, err := h.service.IssueLink(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}
