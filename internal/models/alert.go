package models

import "time"

// DefaultCriticalThreshold is the score at or below which a response is critical.
const DefaultCriticalThreshold = 2.0

// CriticalAnswer is a single answer at or below the threshold.
type CriticalAnswer struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   int    `json:"answer"`
}

// Alert is derived on read from a response whose aggregate score is critical.
type Alert struct {
	ResponseID      string           `json:"responseId"`
	DispatchID      string           `json:"dispatchId"`
	RecipientEmail  *string          `json:"recipientEmail,omitempty"`
	Title           string           `json:"title"`
	Pathology       string           `json:"pathology"`
	Score           float64          `json:"score"`
	AverageScore    float64          `json:"averageScore"`
	SubmittedAt     time.Time        `json:"submittedAt"`
	CriticalAnswers []CriticalAnswer `json:"criticalAnswers"`
	Resolution      Resolution       `json:"resolution"`
}

// AlertFilter narrows the triage queue.
type AlertFilter struct {
	Pathology        string
	Since            *time.Time
	ResolutionStatus *ResolutionStatus
}
