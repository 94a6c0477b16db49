package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusReopened   TicketStatus = "reopened"
)

// ParseTicketStatus converts a stored string into a TicketStatus,
// rejecting anything outside the closed set.
func ParseTicketStatus(raw string) (TicketStatus, error) {
	switch TicketStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case TicketStatusOpen:
		return TicketStatusOpen, nil
	case TicketStatusInProgress:
		return TicketStatusInProgress, nil
	case TicketStatusClosed:
		return TicketStatusClosed, nil
	case TicketStatusReopened:
		return TicketStatusReopened, nil
	default:
		return "", fmt.Errorf("unknown ticket status %q", raw)
	}
}

// TicketPriority is free-form by contract; the well-known values below
// are what the creation form offers, but no role-based validation applies.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// Ticket is the aggregate for support requests. ClientID is immutable
// after creation; TechnicianID is set at most once through a claim,
// cleared only by an admin override.
type Ticket struct {
	ID           string
	Title        string
	Description  string
	Status       TicketStatus
	Priority     TicketPriority
	Category     *string
	ClientID     string
	TechnicianID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TicketPatch carries the fields of a partial update. Nil means
// "leave unchanged". Authorization is evaluated per present field and
// the whole patch is rejected if any field is off-limits for the actor.
type TicketPatch struct {
	Title       *string
	Description *string
	Status      *TicketStatus
	Priority    *TicketPriority
	Category    *string
}

// Empty reports whether the patch carries no changes.
func (p TicketPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.Category == nil
}

// statusTransitions is the guarded state machine consulted before any
// status mutation. Direct open->closed is allowed so that client tickets
// can be closed without technician engagement; reopened->closed mirrors it.
var statusTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusClosed},
	TicketStatusInProgress: {TicketStatusClosed},
	TicketStatusClosed:     {TicketStatusReopened},
	TicketStatusReopened:   {TicketStatusInProgress, TicketStatusClosed},
}

// CanTransition reports whether moving from current to next is legal.
func CanTransition(current, next TicketStatus) bool {
	for _, candidate := range statusTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}
