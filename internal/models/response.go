package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	MinAnswer = 1
	MaxAnswer = 5
)

// AnswerList holds per-question answers persisted as JSONB.
type AnswerList []int

// Value marshals answers to JSON for persistence.
func (a AnswerList) Value() (driver.Value, error) {
	if a == nil {
		a = AnswerList{}
	}
	data, err := json.Marshal([]int(a))
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the answer list.
func (a *AnswerList) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AnswerList", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	var list []int
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal answers: %w", err)
	}
	*a = list
	return nil
}

// Score summarises an answer list.
type Score struct {
	Total   int
	Average float64
	Rounded float64
}

// ComputeScore returns the sum, the arithmetic mean and the mean rounded to one decimal.
func ComputeScore(answers []int) Score {
	if len(answers) == 0 {
		return Score{}
	}
	total := 0
	for _, a := range answers {
		total += a
	}
	avg := float64(total) / float64(len(answers))
	return Score{Total: total, Average: avg, Rounded: math.Round(avg*10) / 10}
}

// Response is a patient's submission for exactly one dispatch. Immutable once created.
type Response struct {
	ID           string     `db:"id" json:"id"`
	DispatchID   string     `db:"dispatch_id" json:"dispatchId"`
	OwnerID      string     `db:"owner_id" json:"ownerId"`
	Answers      AnswerList `db:"answers" json:"answers"`
	Total        int        `db:"total" json:"total"`
	AverageScore float64    `db:"average_score" json:"averageScore"`
	Score        float64    `db:"score" json:"score"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submittedAt"`
}

// ResponseWithDispatch joins a response with the dispatch snapshot it answers.
type ResponseWithDispatch struct {
	Response
	Title          string       `db:"title" json:"title"`
	Pathology      string       `db:"pathology" json:"pathology"`
	Questions      QuestionList `db:"questions" json:"-"`
	RecipientEmail *string      `db:"recipient_email" json:"recipientEmail,omitempty"`
}

// ResponseFilter narrows owner-scoped response reads.
type ResponseFilter struct {
	OwnerID   string
	Pathology string
	Since     *time.Time
	MaxScore  *float64
}
