package models

import "time"

// ResolutionStatus tracks the practitioner workflow on an alert.
type ResolutionStatus string

const (
	ResolutionStatusNew        ResolutionStatus = "new"
	ResolutionStatusInProgress ResolutionStatus = "in-progress"
	ResolutionStatusResolved   ResolutionStatus = "resolved"
)

// Valid reports whether s is a known resolution status.
func (s ResolutionStatus) Valid() bool {
	switch s {
	case ResolutionStatusNew, ResolutionStatusInProgress, ResolutionStatusResolved:
		return true
	default:
		return false
	}
}

// Resolution is keyed by response id and never deleted.
type Resolution struct {
	ResponseID string           `db:"response_id" json:"responseId"`
	OwnerID    string           `db:"owner_id" json:"ownerId"`
	Status     ResolutionStatus `db:"status" json:"status"`
	Note       *string          `db:"note" json:"note,omitempty"`
	AssignedTo *string          `db:"assigned_to" json:"assignedTo,omitempty"`
	ResolvedBy *string          `db:"resolved_by" json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time       `db:"resolved_at" json:"resolvedAt,omitempty"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updatedAt"`
}

// NewResolution is the implicit state of an alert nobody engaged yet.
func NewResolution(ownerID, responseID string) Resolution {
	return Resolution{ResponseID: responseID, OwnerID: ownerID, Status: ResolutionStatusNew}
}
