package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Question is one scale prompt rated from 1 to 5.
type Question struct {
	Text     string `json:"text" validate:"required,max=500"`
	MinLabel string `json:"minLabel,omitempty" validate:"max=100"`
	MaxLabel string `json:"maxLabel,omitempty" validate:"max=100"`
}

// QuestionList is an ordered set of prompts persisted as JSONB.
type QuestionList []Question

// Value marshals questions to JSON for persistence.
func (q QuestionList) Value() (driver.Value, error) {
	if q == nil {
		q = QuestionList{}
	}
	data, err := json.Marshal([]Question(q))
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the question list.
func (q *QuestionList) Scan(value interface{}) error {
	if value == nil {
		*q = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for QuestionList", value)
	}
	if len(data) == 0 {
		*q = nil
		return nil
	}
	var list []Question
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("unmarshal questions: %w", err)
	}
	*q = list
	return nil
}

// Prompt returns the text of question i, or "" when the snapshot is shorter.
func (q QuestionList) Prompt(i int) string {
	if i < 0 || i >= len(q) {
		return ""
	}
	return q[i].Text
}

// Questionnaire is a practitioner-owned template.
type Questionnaire struct {
	ID               string       `db:"id" json:"id"`
	OwnerID          string       `db:"owner_id" json:"ownerId"`
	Title            string       `db:"title" json:"title"`
	Pathology        string       `db:"pathology" json:"pathology"`
	Questions        QuestionList `db:"questions" json:"questions"`
	DefaultDelayDays *int         `db:"default_delay_days" json:"defaultDelayDays,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`
}
