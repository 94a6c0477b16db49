package domain

import "time"

// History field names recorded by the audit log.
const (
	HistoryFieldStatus     = "status"
	HistoryFieldPriority   = "priority"
	HistoryFieldTechnician = "technician_id"
)

// TicketHistory is an immutable audit entry for a single field change.
type TicketHistory struct {
	ID        string
	TicketID  string
	ChangedBy string
	Field     string
	OldValue  string
	NewValue  string
	ChangedAt time.Time
}
