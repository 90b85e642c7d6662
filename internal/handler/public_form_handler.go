package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/followup-api/internal/dto"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/response"
)

type responseService interface {
	Form(ctx context.Context, token string) (*dto.PublicFormResponse, error)
	Submit(ctx context.Context, token string, req dto.SubmitResponseRequest) (*dto.SubmitResponseResult, error)
}

// PublicFormHandler serves patient links. Routes are unauthenticated; the
// signed token is the credential.
type PublicFormHandler struct {
	service responseService
}

// NewPublicFormHandler constructs the handler.
func NewPublicFormHandler(service responseService) *PublicFormHandler {
	return &PublicFormHandler{service: service}
}

// Form godoc
// @Summary Open a questionnaire link
// @Tags Public
// @Produce json
// @Param token path string true "Link token"
// @Success 200 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /public/forms/{token} [get]
func (h *PublicFormHandler) Form(c *gin.Context) {
	form, err := h.service.Form(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// Submit godoc
// @Summary Submit questionnaire answers
// @Tags Public
// @Accept json
// @Produce json
// @Param token path string true "Link token"
// @Param payload body dto.SubmitResponseRequest true "Answers"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /public/forms/{token}/responses [post]
func (h *PublicFormHandler) Submit(c *gin.Context) {
	var req dto.SubmitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid answers payload"))
		return
	}
	result, err := h.service.Submit(c.Request.Context(), c.Param("token"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}
