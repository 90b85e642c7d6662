package models

import "time"

const (
	MinDelayDays = 1
	MaxDelayDays = 90
)

// ClampDelayDays bounds a configured delay to the accepted range.
func ClampDelayDays(days int) int {
	if days < MinDelayDays {
		return MinDelayDays
	}
	if days > MaxDelayDays {
		return MaxDelayDays
	}
	return days
}

// Dispatch is one questionnaire sent, or to be sent, to one recipient. A nil
// RecipientEmail marks a generic link with no schedule. Recipient and
// questions never change after creation.
type Dispatch struct {
	ID              string         `db:"id" json:"id"`
	OwnerID         string         `db:"owner_id" json:"ownerId"`
	QuestionnaireID string         `db:"questionnaire_id" json:"questionnaireId"`
	Title           string         `db:"title" json:"title"`
	Pathology       string         `db:"pathology" json:"pathology"`
	Questions       QuestionList   `db:"questions" json:"questions"`
	RecipientEmail  *string        `db:"recipient_email" json:"recipientEmail,omitempty"`
	DelayDays       *int           `db:"delay_days" json:"delayDays,omitempty"`
	SendImmediately bool           `db:"send_immediately" json:"sendImmediately"`
	Status          DispatchStatus `db:"status" json:"status"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	SentAt          *time.Time     `db:"sent_at" json:"sentAt,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	ExpiredAt       *time.Time     `db:"expired_at" json:"expiredAt,omitempty"`
	LastError       *string        `db:"last_error" json:"lastError,omitempty"`
}

// HasRecipient reports whether the dispatch targets an address.
func (d Dispatch) HasRecipient() bool {
	return d.RecipientEmail != nil && *d.RecipientEmail != ""
}

// Recipient returns the address or "" for generic links.
func (d Dispatch) Recipient() string {
	if d.RecipientEmail == nil {
		return ""
	}
	return *d.RecipientEmail
}

// EffectiveDelayDays is 0 for immediate sends and generic links.
func (d Dispatch) EffectiveDelayDays() int {
	if d.SendImmediately || d.DelayDays == nil {
		return 0
	}
	return *d.DelayDays
}

// ScheduledDate is the calendar date the dispatch is due: creation date plus
// the delay in days. Generic links have none.
func (d Dispatch) ScheduledDate() (time.Time, bool) {
	if !d.HasRecipient() {
		return time.Time{}, false
	}
	return AddCalendarDays(d.CreatedAt, d.EffectiveDelayDays()), true
}

// FireAt is the instant the scheduled-dispatch sweeper sends the questionnaire.
func (d Dispatch) FireAt() (time.Time, bool) {
	if !d.HasRecipient() {
		return time.Time{}, false
	}
	return d.CreatedAt.AddDate(0, 0, d.EffectiveDelayDays()), true
}

// DispatchFilter captures owner-scoped listing criteria.
type DispatchFilter struct {
	OwnerID      string
	Status       *DispatchStatus
	HasRecipient *bool
	Recipient    string
	Page         int
	PageSize     int
}
