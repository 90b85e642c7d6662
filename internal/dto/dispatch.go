package dto

import (
	"time"

	"github.com/noah-isme/followup-api/internal/models"
)

// CreateDispatchRequest captures POST /dispatches payload. Recipients is the
// raw free-text block; an empty block creates one generic link.
type CreateDispatchRequest struct {
	QuestionnaireID string `json:"questionnaireId" validate:"required"`
	Recipients      string `json:"recipients"`
	SendImmediately bool   `json:"sendImmediately"`
	DelayDays       *int   `json:"delayDays,omitempty"`
}

// RecipientOutcome reports one recipient of a batch.
type RecipientOutcome struct {
	Recipient  string                `json:"recipient"`
	DispatchID string                `json:"dispatchId,omitempty"`
	Status     models.DispatchStatus `json:"status,omitempty"`
	Succeeded  bool                  `json:"succeeded"`
	Error      string                `json:"error,omitempty"`
}

// DispatchBatchResult is returned after a batch has been processed.
type DispatchBatchResult struct {
	BatchSize         int                   `json:"batchSize"`
	Succeeded         int                   `json:"succeeded"`
	Failed            int                   `json:"failed"`
	Outcomes          []RecipientOutcome    `json:"outcomes"`
	InvalidRecipients []string              `json:"invalidRecipients,omitempty"`
	GenericLink       *DispatchView         `json:"genericLink,omitempty"`
	Link              *DispatchLinkResponse `json:"link,omitempty"`
	DelayDays         int                   `json:"delayDays"`
}

// DispatchView is a dispatch enriched with its derived status.
type DispatchView struct {
	models.Dispatch
	View models.DispatchStatusView `json:"statusView"`
}

// DispatchListQuery captures GET /dispatches query parameters.
type DispatchListQuery struct {
	Status       string `form:"status"`
	HasRecipient *bool  `form:"hasRecipient"`
	Recipient    string `form:"recipient"`
	Page         int    `form:"page"`
	PageSize     int    `form:"pageSize"`
}

// DispatchLinkResponse carries a signed patient link.
type DispatchLinkResponse struct {
	DispatchID string    `json:"dispatchId"`
	Token      string    `json:"token"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
