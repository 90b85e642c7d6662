package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/followup-api/internal/dto"
	"github.com/noah-isme/followup-api/internal/models"
	appErrors "github.com/noah-isme/followup-api/pkg/errors"
	"github.com/noah-isme/followup-api/pkg/response"
)

type alertService interface {
	List(ctx context.Context, ownerID string, filter models.AlertFilter) ([]models.Alert, error)
}

type alertExporter interface {
	AlertsCSV(ctx context.Context, ownerID string, filter models.AlertFilter) ([]byte, string, error)
	AlertsPDF(ctx context.Context, ownerID string, filter models.AlertFilter) ([]byte, string, error)
}

type resolutionService interface {
	Get(ctx context.Context, ownerID, responseID string) (*models.Resolution, error)
	TakeAction(ctx context.Context, ownerID, responseID, actor string) (*models.Resolution, error)
	Resolve(ctx context.Context, ownerID, responseID, note, actor string) (*models.Resolution, error)
}

// AlertHandler serves the triage queue and its resolution workflow.
type AlertHandler struct {
	alerts      alertService
	exporter    alertExporter
	resolutions resolutionService
	now         func() time.Time
}

// NewAlertHandler constructs the handler.
func NewAlertHandler(alerts alertService, exporter alertExporter, resolutions resolutionService) *AlertHandler {
	return &AlertHandler{alerts: alerts, exporter: exporter, resolutions: resolutions, now: time.Now}
}

// List godoc
// @Summary Critical responses awaiting triage
// @Tags Alerts
// @Produce json
// @Param pathology query string false "Pathology"
// @Param sinceDays query int false "Only responses submitted in the last N days"
// @Param status query string false "Resolution status (new, in-progress, resolved)"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	owner, filter, ok := h.filter(c)
	if !ok {
		return
	}
	alerts, err := h.alerts.List(c.Request.Context(), owner, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, alerts, nil, map[string]interface{}{"count": len(alerts)})
}

// Export godoc
// @Summary Export alerts as CSV or PDF
// @Tags Alerts
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param pathology query string false "Pathology"
// @Param sinceDays query int false "Only responses submitted in the last N days"
// @Param status query string false "Resolution status"
// @Success 200 {file} file
// @Security BearerAuth
// @Router /alerts/export [get]
func (h *AlertHandler) Export(c *gin.Context) {
	owner, filter, ok := h.filter(c)
	if !ok {
		return
	}
	render, contentType := h.exporter.AlertsCSV, "text/csv; charset=utf-8"
	switch strings.ToLower(c.DefaultQuery("format", "csv")) {
	case "csv":
	case "pdf":
		render, contentType = h.exporter.AlertsPDF, "application/pdf"
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf"))
		return
	}
	content, filename, err := render(c.Request.Context(), owner, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, content)
}

// GetResolution godoc
// @Summary Resolution state of an alert
// @Tags Alerts
// @Produce json
// @Param responseId path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /alerts/{responseId}/resolution [get]
func (h *AlertHandler) GetResolution(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	res, err := h.resolutions.Get(c.Request.Context(), owner, c.Param("responseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// TakeAction godoc
// @Summary Take charge of an alert
// @Tags Alerts
// @Produce json
// @Param responseId path string true "Response ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /alerts/{responseId}/take-action [post]
func (h *AlertHandler) TakeAction(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	res, err := h.resolutions.TakeAction(c.Request.Context(), owner, c.Param("responseId"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Resolve godoc
// @Summary Resolve an alert
// @Tags Alerts
// @Accept json
// @Produce json
// @Param responseId path string true "Response ID"
// @Param payload body dto.ResolveAlertRequest true "Closing note"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /alerts/{responseId}/resolve [post]
func (h *AlertHandler) Resolve(c *gin.Context) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return
	}
	var req dto.ResolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid resolution payload"))
		return
	}
	res, err := h.resolutions.Resolve(c.Request.Context(), owner, c.Param("responseId"), req.Note, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

func (h *AlertHandler) filter(c *gin.Context) (string, models.AlertFilter, bool) {
	owner, ok := ownerFromContext(c)
	if !ok {
		return "", models.AlertFilter{}, false
	}
	var query dto.AlertListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return "", models.AlertFilter{}, false
	}
	return owner, query.Filter(h.now().UTC()), true
}
