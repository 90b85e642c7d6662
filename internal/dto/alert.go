package dto

import (
	"time"

	"github.com/noah-isme/followup-api/internal/models"
)

// AlertListQuery captures GET /alerts query parameters.
type AlertListQuery struct {
	Pathology string `form:"pathology"`
	SinceDays int    `form:"sinceDays"`
	Status    string `form:"status"`
}

// Filter converts the query to an alert filter relative to now.
func (q AlertListQuery) Filter(now time.Time) models.AlertFilter {
	filter := models.AlertFilter{Pathology: q.Pathology}
	if q.SinceDays > 0 {
		since := now.AddDate(0, 0, -q.SinceDays)
		filter.Since = &since
	}
	if q.Status != "" {
		status := models.ResolutionStatus(q.Status)
		filter.ResolutionStatus = &status
	}
	return filter
}

// ResolveAlertRequest captures the closing note.
type ResolveAlertRequest struct {
	Note string `json:"note" validate:"required,max=4000"`
}
