package models

import (
	"errors"
	"fmt"
	"time"
)

// DispatchStatus is the lifecycle state of a dispatch record. It is the only
// status value any surface reads; views derive everything else through
// DescribeDispatch.
type DispatchStatus string

const (
	DispatchStatusPending   DispatchStatus = "pending"
	DispatchStatusScheduled DispatchStatus = "scheduled"
	DispatchStatusSent      DispatchStatus = "sent"
	DispatchStatusCompleted DispatchStatus = "completed"
	DispatchStatusExpired   DispatchStatus = "expired"
)

// DispatchEvent drives a transition of the dispatch lifecycle.
type DispatchEvent string

const (
	DispatchEventFire    DispatchEvent = "fire"
	DispatchEventRespond DispatchEvent = "respond"
	DispatchEventExpire  DispatchEvent = "expire"
)

// ErrInvalidTransition is returned when an event is not accepted by the current status.
var ErrInvalidTransition = errors.New("invalid dispatch status transition")

var dispatchTransitions = map[DispatchStatus]map[DispatchEvent]DispatchStatus{
	DispatchStatusPending: {
		// generic links carry no schedule and complete directly
		DispatchEventRespond: DispatchStatusCompleted,
	},
	DispatchStatusScheduled: {
		DispatchEventFire:    DispatchStatusSent,
		DispatchEventRespond: DispatchStatusCompleted,
		DispatchEventExpire:  DispatchStatusExpired,
	},
	DispatchStatusSent: {
		DispatchEventRespond: DispatchStatusCompleted,
		DispatchEventExpire:  DispatchStatusExpired,
	},
}

var dispatchLabels = map[DispatchStatus]string{
	DispatchStatusPending:   "En attente",
	DispatchStatusScheduled: "Programmé",
	DispatchStatusSent:      "Envoyé",
	DispatchStatusCompleted: "Complété",
	DispatchStatusExpired:   "Expiré",
}

// UnknownStatusLabel is shown for values outside the lifecycle.
const UnknownStatusLabel = "Statut inconnu"

// Valid reports whether s is one of the lifecycle states.
func (s DispatchStatus) Valid() bool {
	_, ok := dispatchLabels[s]
	return ok
}

// Terminal reports whether no further event is accepted.
func (s DispatchStatus) Terminal() bool {
	return s == DispatchStatusCompleted || s == DispatchStatusExpired
}

// Label returns the practitioner-facing label.
func (s DispatchStatus) Label() string {
	if label, ok := dispatchLabels[s]; ok {
		return label
	}
	return UnknownStatusLabel
}

// InitialStatus resolves the creation rows of the lifecycle table.
func InitialStatus(hasRecipient, immediate bool) DispatchStatus {
	switch {
	case !hasRecipient:
		return DispatchStatusPending
	case immediate:
		return DispatchStatusSent
	default:
		return DispatchStatusScheduled
	}
}

// Transition applies event to from and returns the resulting status.
func Transition(from DispatchStatus, event DispatchEvent) (DispatchStatus, error) {
	if next, ok := dispatchTransitions[from][event]; ok {
		return next, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}

// Accepts reports whether event is allowed from s.
func (s DispatchStatus) Accepts(event DispatchEvent) bool {
	_, ok := dispatchTransitions[s][event]
	return ok
}

// SourcesFor lists the statuses from which event is accepted. Repositories use
// it to guard conditional updates.
func SourcesFor(event DispatchEvent) []DispatchStatus {
	sources := make([]DispatchStatus, 0, 2)
	for _, from := range []DispatchStatus{DispatchStatusPending, DispatchStatusScheduled, DispatchStatusSent} {
		if from.Accepts(event) {
			sources = append(sources, from)
		}
	}
	return sources
}

// DispatchStatusView is the derived, display-ready status of a dispatch.
type DispatchStatusView struct {
	Status           DispatchStatus `json:"status"`
	Label            string         `json:"label"`
	Terminal         bool           `json:"terminal"`
	AwaitingResponse bool           `json:"awaitingResponse"`
	ScheduledFor     *time.Time     `json:"scheduledFor,omitempty"`
	DaysRemaining    *int           `json:"daysRemaining,omitempty"`
}

// DescribeDispatch is the single status query shared by history, dashboard and
// triage surfaces.
func DescribeDispatch(d Dispatch, now time.Time) DispatchStatusView {
	view := DispatchStatusView{
		Status:   d.Status,
		Label:    d.Status.Label(),
		Terminal: d.Status.Terminal(),
	}
	if !d.Status.Valid() {
		view.Status = "unknown"
		return view
	}
	view.AwaitingResponse = d.Status == DispatchStatusScheduled || d.Status == DispatchStatusSent
	if d.Status == DispatchStatusScheduled {
		if scheduled, ok := d.ScheduledDate(); ok {
			remaining := DaysUntil(now, scheduled)
			view.ScheduledFor = &scheduled
			view.DaysRemaining = &remaining
		}
	}
	return view
}

// AddCalendarDays moves t forward by days calendar days at day granularity.
func AddCalendarDays(t time.Time, days int) time.Time {
	return truncateToDay(t).AddDate(0, 0, days)
}

// DaysUntil compares calendar dates so a same-day target reads as 0 and
// past targets never go negative. Dates are UTC midnights, so every day is 24h.
func DaysUntil(now, target time.Time) int {
	from := truncateToDay(now)
	to := truncateToDay(target)
	if !to.After(from) {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
