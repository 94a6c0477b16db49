// Package authz holds the per-role, per-operation capability table.
// Services consult it before touching persistence; the table is the
// single source of truth for who may do what.
package authz

import "github.com/desk-kit/helpdesk-service/internal/domain"

// Operation names a guarded action.
type Operation string

const (
	OpCreateTicket         Operation = "create_ticket"
	OpViewTicketList       Operation = "view_ticket_list"
	OpEditTitleDescription Operation = "edit_title_description"
	OpEditStatus           Operation = "edit_status"
	OpEditPriority         Operation = "edit_priority"
	OpAssignSelf           Operation = "assign_self"
	OpChangeUserRole       Operation = "change_user_role"
	OpDeleteUser           Operation = "delete_user"
	OpDeleteTicket         Operation = "delete_ticket"
)

// Constraint narrows an otherwise-allowed operation.
type Constraint string

const (
	ConstraintNone           Constraint = ""
	ConstraintOwnerOnly      Constraint = "owner_only"      // only on tickets the actor created
	ConstraintOwnTicketsOnly Constraint = "own_tickets"     // listing limited to own tickets
	ConstraintUnassignedOnly Constraint = "unassigned_only" // only while no technician is set
	ConstraintNotSelf        Constraint = "not_self"        // never against the actor's own account
)

// Decision is the outcome of a capability lookup.
type Decision struct {
	Allowed    bool
	Constraint Constraint
}

var deny = Decision{}

func allow(c Constraint) Decision {
	return Decision{Allowed: true, Constraint: c}
}

// capabilities is the authoritative matrix. Absent entries deny.
var capabilities = map[domain.Role]map[Operation]Decision{
	domain.RoleClient: {
		OpCreateTicket:         allow(ConstraintNone),
		OpViewTicketList:       allow(ConstraintOwnTicketsOnly),
		OpEditTitleDescription: allow(ConstraintOwnerOnly),
	},
	domain.RoleTechnician: {
		OpViewTicketList: allow(ConstraintNone),
		OpEditStatus:     allow(ConstraintNone),
		OpEditPriority:   allow(ConstraintNone),
		OpAssignSelf:     allow(ConstraintUnassignedOnly),
	},
	domain.RoleAdmin: {
		OpViewTicketList:       allow(ConstraintNone),
		OpEditTitleDescription: allow(ConstraintNone),
		OpEditStatus:           allow(ConstraintNone),
		OpEditPriority:         allow(ConstraintNone),
		OpChangeUserRole:       allow(ConstraintNotSelf),
		OpDeleteUser:           allow(ConstraintNotSelf),
		OpDeleteTicket:         allow(ConstraintNone),
	},
}

// Check returns the decision for a role and operation.
func Check(role domain.Role, op Operation) Decision {
	ops, ok := capabilities[role]
	if !ok {
		return deny
	}
	decision, ok := ops[op]
	if !ok {
		return deny
	}
	return decision
}

// Can is a convenience wrapper ignoring constraints.
func Can(role domain.Role, op Operation) bool {
	return Check(role, op).Allowed
}
