package dto

import "github.com/noah-isme/followup-api/internal/models"

// UpsertQuestionnaireRequest is shared by create and update.
type UpsertQuestionnaireRequest struct {
	Title            string            `json:"title" validate:"required,max=200"`
	Pathology        string            `json:"pathology" validate:"max=200"`
	Questions        []models.Question `json:"questions" validate:"required,min=1,max=50,dive"`
	DefaultDelayDays *int              `json:"defaultDelayDays,omitempty"`
}
