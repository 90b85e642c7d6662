package dto

import (
	"time"

	"github.com/noah-isme/followup-api/internal/models"
)

// PublicFormResponse is what a patient sees when opening a link.
type PublicFormResponse struct {
	DispatchID string              `json:"dispatchId"`
	Title      string              `json:"title"`
	Pathology  string              `json:"pathology"`
	Questions  models.QuestionList `json:"questions"`
}

// SubmitResponseRequest captures the patient's answers.
type SubmitResponseRequest struct {
	Answers []int `json:"answers" validate:"required,min=1,dive,min=1,max=5"`
}

// SubmitResponseResult acknowledges a submission.
type SubmitResponseResult struct {
	ResponseID  string    `json:"responseId"`
	Score       float64   `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}
