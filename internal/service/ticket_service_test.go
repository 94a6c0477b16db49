package service

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/desk-kit/helpdesk-service/internal/domain"
	"github.com/desk-kit/helpdesk-service/internal/repository"
	apperrors "github.com/desk-kit/helpdesk-service/pkg/util"
)

func clientActor(id string) *domain.User {
	return &domain.User{ID: id, Username: "client-" + id, Role: domain.RoleClient}
}

func technicianActor(id string) *domain.User {
	return &domain.User{ID: id, Username: "tech-" + id, Role: domain.RoleTechnician}
}

func adminActor(id string) *domain.User {
	return &domain.User{ID: id, Username: "admin-" + id, Role: domain.RoleAdmin}
}

func strPtr(s string) *string { return &s }

func statusPtr(s domain.TicketStatus) *domain.TicketStatus { return &s }

func priorityPtr(p domain.TicketPriority) *domain.TicketPriority { return &p }

func TestTicketServiceCreate(t *testing.T) {
	tests := []struct {
		name       string
		actor      *domain.User
		input      TicketCreateInput
		setupMocks func(tickets *TicketRepoMock)
		wantCode   string
		check      func(t *testing.T, ticket *domain.Ticket)
	}{
		{
			name:  "client creates with defaults",
			actor: clientActor("c1"),
			input: TicketCreateInput{Title: "Printer not working", Description: "Paper jam on floor 2"},
			setupMocks: func(tickets *TicketRepoMock) {
				tickets.On("Create", mock.Anything, mock.AnythingOfType("*domain.Ticket")).
					Run(func(args mock.Arguments) {
						args.Get(1).(*domain.Ticket).ID = "t1"
					}).Return(nil)
			},
			check: func(t *testing.T, ticket *domain.Ticket) {
				assert.Equal(t, "t1", ticket.ID)
				assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
				assert.Equal(t, domain.TicketPriorityMedium, ticket.Priority)
				assert.Equal(t, "c1", ticket.ClientID)
				assert.Nil(t, ticket.TechnicianID)
			},
		},
		{
			name:  "explicit priority kept",
			actor: clientActor("c1"),
			input: TicketCreateInput{Title: "VPN down", Description: "Cannot connect", Priority: domain.TicketPriorityHigh},
			setupMocks: func(tickets *TicketRepoMock) {
				tickets.On("Create", mock.Anything, mock.AnythingOfType("*domain.Ticket")).Return(nil)
			},
			check: func(t *testing.T, ticket *domain.Ticket) {
				assert.Equal(t, domain.TicketPriorityHigh, ticket.Priority)
			},
		},
		{
			name:     "technician may not create",
			actor:    technicianActor("t9"),
			input:    TicketCreateInput{Title: "x", Description: "y"},
			wantCode: apperrors.CodeForbidden,
		},
		{
			name:     "admin may not create",
			actor:    adminActor("a1"),
			input:    TicketCreateInput{Title: "x", Description: "y"},
			wantCode: apperrors.CodeForbidden,
		},
		{
			name:     "blank title rejected",
			actor:    clientActor("c1"),
			input:    TicketCreateInput{Title: "   ", Description: "something"},
			wantCode: apperrors.CodeValidation,
		},
		{
			name:     "blank description rejected",
			actor:    clientActor("c1"),
			input:    TicketCreateInput{Title: "something", Description: ""},
			wantCode: apperrors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets := new(TicketRepoMock)
			if tt.setupMocks != nil {
				tt.setupMocks(tickets)
			}
			svc := NewTicketService(TicketDependencies{TicketRepo: tickets})

			ticket, err := svc.Create(context.Background(), tt.actor, tt.input)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.wantCode))
				tickets.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			tt.check(t, ticket)
			tickets.AssertExpectations(t)
		})
	}
}

func TestTicketServiceUpdateFields(t *testing.T) {
	ownTicket := func() *domain.Ticket {
		return &domain.Ticket{ID: "t1", Title: "old", Description: "old", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, ClientID: "c1"}
	}

	tests := []struct {
		name       string
		actor      *domain.User
		patch      domain.TicketPatch
		setupMocks func(tickets *TicketRepoMock, history *HistoryRepoMock)
		wantCode   string
		check      func(t *testing.T, ticket *domain.Ticket, history *HistoryRepoMock)
	}{
		{
			name:     "empty patch rejected",
			actor:    clientActor("c1"),
			patch:    domain.TicketPatch{},
			wantCode: apperrors.CodeValidation,
		},
		{
			name:  "unknown ticket",
			actor: clientActor("c1"),
			patch: domain.TicketPatch{Title: strPtr("new")},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(nil, pgx.ErrNoRows)
			},
			wantCode: apperrors.CodeNotFound,
		},
		{
			name:  "client edits own title and description",
			actor: clientActor("c1"),
			patch: domain.TicketPatch{Title: strPtr("new title"), Description: strPtr("new description")},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
				tickets.On("Update", mock.Anything, "t1", mock.MatchedBy(func(u repository.TicketUpdate) bool {
					return u.Title != nil && *u.Title == "new title" &&
						u.Description != nil && *u.Description == "new description" &&
						u.Status == nil && u.Priority == nil
				})).Return(&domain.Ticket{ID: "t1", Title: "new title", Description: "new description", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, ClientID: "c1"}, nil)
			},
			check: func(t *testing.T, ticket *domain.Ticket, history *HistoryRepoMock) {
				assert.Equal(t, "new title", ticket.Title)
				assert.Equal(t, "new description", ticket.Description)
				history.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			},
		},
		{
			name:  "client may not edit another client's ticket",
			actor: clientActor("c2"),
			patch: domain.TicketPatch{Title: strPtr("hijack")},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
			},
			wantCode: apperrors.CodeForbidden,
		},
		{
			name:  "one forbidden field rejects the whole patch",
			actor: clientActor("c1"),
			patch: domain.TicketPatch{Title: strPtr("fine"), Status: statusPtr(domain.TicketStatusClosed)},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
			},
			wantCode: apperrors.CodeForbidden,
		},
		{
			name:  "technician may not edit title",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Title: strPtr("renamed")},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
			},
			wantCode: apperrors.CodeForbidden,
		},
		{
			name:  "technician moves open to in_progress",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Status: statusPtr(domain.TicketStatusInProgress)},
			setupMocks: func(tickets *TicketRepoMock, history *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
				tickets.On("Update", mock.Anything, "t1", mock.MatchedBy(func(u repository.TicketUpdate) bool {
					return u.Status != nil && *u.Status == domain.TicketStatusInProgress &&
						u.ExpectedStatus == domain.TicketStatusOpen &&
						u.Title == nil && u.Description == nil
				})).Return(&domain.Ticket{ID: "t1", Title: "old", Description: "old", Status: domain.TicketStatusInProgress, Priority: domain.TicketPriorityLow, ClientID: "c1"}, nil)
				history.On("Create", mock.Anything, mock.MatchedBy(func(entry *domain.TicketHistory) bool {
					return entry.Field == domain.HistoryFieldStatus &&
						entry.OldValue == string(domain.TicketStatusOpen) &&
						entry.NewValue == string(domain.TicketStatusInProgress) &&
						entry.ChangedBy == "tech1"
				})).Return(nil)
			},
			check: func(t *testing.T, ticket *domain.Ticket, history *HistoryRepoMock) {
				assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
				history.AssertExpectations(t)
			},
		},
		{
			name:  "illegal transition is a conflict",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Status: statusPtr(domain.TicketStatusReopened)},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
			},
			wantCode: apperrors.CodeConflict,
		},
		{
			name:  "unknown status is a validation failure",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Status: statusPtr(domain.TicketStatus("resolved"))},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
			},
			wantCode: apperrors.CodeValidation,
		},
		{
			name:  "priority change recorded in history",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Priority: priorityPtr(domain.TicketPriorityHigh)},
			setupMocks: func(tickets *TicketRepoMock, history *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
				tickets.On("Update", mock.Anything, "t1", mock.MatchedBy(func(u repository.TicketUpdate) bool {
					return u.Priority != nil && *u.Priority == domain.TicketPriorityHigh && u.Status == nil
				})).Return(&domain.Ticket{ID: "t1", Title: "old", Description: "old", Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityHigh, ClientID: "c1"}, nil)
				history.On("Create", mock.Anything, mock.MatchedBy(func(entry *domain.TicketHistory) bool {
					return entry.Field == domain.HistoryFieldPriority &&
						entry.OldValue == string(domain.TicketPriorityLow) &&
						entry.NewValue == string(domain.TicketPriorityHigh)
				})).Return(nil)
			},
			check: func(t *testing.T, ticket *domain.Ticket, history *HistoryRepoMock) {
				assert.Equal(t, domain.TicketPriorityHigh, ticket.Priority)
				history.AssertExpectations(t)
			},
		},
		{
			name:  "concurrently deleted ticket is a conflict",
			actor: adminActor("a1"),
			patch: domain.TicketPatch{Title: strPtr("renamed")},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
				tickets.On("Update", mock.Anything, "t1", mock.AnythingOfType("repository.TicketUpdate")).Return(nil, pgx.ErrNoRows)
			},
			wantCode: apperrors.CodeConflict,
		},
		{
			name:  "status moved between read and write is a conflict",
			actor: technicianActor("tech1"),
			patch: domain.TicketPatch{Status: statusPtr(domain.TicketStatusInProgress)},
			setupMocks: func(tickets *TicketRepoMock, _ *HistoryRepoMock) {
				tickets.On("GetByID", mock.Anything, "t1").Return(ownTicket(), nil)
				tickets.On("Update", mock.Anything, "t1", mock.AnythingOfType("repository.TicketUpdate")).Return(nil, repository.ErrStaleStatus)
			},
			wantCode: apperrors.CodeConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets := new(TicketRepoMock)
			history := new(HistoryRepoMock)
			if tt.setupMocks != nil {
				tt.setupMocks(tickets, history)
			}
			svc := NewTicketService(TicketDependencies{TicketRepo: tickets, HistoryRepo: history})

			ticket, err := svc.UpdateFields(context.Background(), tt.actor, "t1", tt.patch)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.check(t, ticket, history)
			tickets.AssertExpectations(t)
		})
	}
}

// A claim committing between the update's read and write must survive:
// the write carries only the patched columns and never technician_id,
// so the assignment and its in_progress status stay intact.
func TestTicketServiceUpdatePreservesConcurrentClaim(t *testing.T) {
	techID := "tech1"
	tickets := new(TicketRepoMock)
	history := new(HistoryRepoMock)

	// Pre-claim read: still open and unassigned.
	tickets.On("GetByID", mock.Anything, "t1").Return(
		&domain.Ticket{ID: "t1", Title: "old", Description: "d", Status: domain.TicketStatusOpen, ClientID: "c1"}, nil)
	// By the time the write lands the claim has committed; the store
	// returns the row with the assignment in place.
	tickets.On("Update", mock.Anything, "t1", mock.MatchedBy(func(u repository.TicketUpdate) bool {
		return u.Title != nil && u.Status == nil && u.Priority == nil && u.Description == nil && u.Category == nil
	})).Return(&domain.Ticket{
		ID: "t1", Title: "renamed", Description: "d",
		Status: domain.TicketStatusInProgress, ClientID: "c1", TechnicianID: &techID,
	}, nil)

	svc := NewTicketService(TicketDependencies{TicketRepo: tickets, HistoryRepo: history})

	updated, err := svc.UpdateFields(context.Background(), clientActor("c1"), "t1", domain.TicketPatch{Title: strPtr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	require.NotNil(t, updated.TechnicianID)
	assert.Equal(t, techID, *updated.TechnicianID)
	assert.Equal(t, domain.TicketStatusInProgress, updated.Status)
	// The status change belongs to the claim, not this patch; no
	// history entry is attributed to the patching client.
	history.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	tickets.AssertExpectations(t)
}

func TestTicketServiceGetVisibility(t *testing.T) {
	ticket := &domain.Ticket{ID: "t1", Title: "x", ClientID: "owner", Status: domain.TicketStatusOpen}

	tests := []struct {
		name     string
		actor    *domain.User
		wantCode string
	}{
		{name: "owner sees own ticket", actor: clientActor("owner")},
		{name: "other client gets not found", actor: clientActor("intruder"), wantCode: apperrors.CodeNotFound},
		{name: "technician sees any ticket", actor: technicianActor("tech1")},
		{name: "admin sees any ticket", actor: adminActor("a1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets := new(TicketRepoMock)
			tickets.On("GetByID", mock.Anything, "t1").Return(ticket, nil)
			svc := NewTicketService(TicketDependencies{TicketRepo: tickets})

			got, err := svc.Get(context.Background(), tt.actor, "t1")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "t1", got.ID)
		})
	}
}

func TestTicketServiceListScopesClients(t *testing.T) {
	tickets := new(TicketRepoMock)
	tickets.On("ListWithFilter", mock.Anything, mock.MatchedBy(func(f repository.TicketFilter) bool {
		return f.ClientID != nil && *f.ClientID == "c1"
	})).Return([]domain.Ticket{{ID: "t1", ClientID: "c1"}}, nil)
	svc := NewTicketService(TicketDependencies{TicketRepo: tickets})

	got, err := svc.List(context.Background(), clientActor("c1"), TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	tickets.AssertExpectations(t)
}

func TestTicketServiceListUnscopedForStaff(t *testing.T) {
	for _, actor := range []*domain.User{technicianActor("tech1"), adminActor("a1")} {
		tickets := new(TicketRepoMock)
		tickets.On("ListWithFilter", mock.Anything, mock.MatchedBy(func(f repository.TicketFilter) bool {
			return f.ClientID == nil
		})).Return([]domain.Ticket{}, nil)
		svc := NewTicketService(TicketDependencies{TicketRepo: tickets})

		_, err := svc.List(context.Background(), actor, TicketListFilter{})
		require.NoError(t, err)
		tickets.AssertExpectations(t)
	}
}

func TestTicketServiceDelete(t *testing.T) {
	tests := []struct {
		name       string
		actor      *domain.User
		setupMocks func(tickets *TicketRepoMock)
		wantCode   string
	}{
		{
			name:  "admin deletes",
			actor: adminActor("a1"),
			setupMocks: func(tickets *TicketRepoMock) {
				tickets.On("Delete", mock.Anything, "t1").Return(nil)
			},
		},
		{
			name:  "second delete reports not found",
			actor: adminActor("a1"),
			setupMocks: func(tickets *TicketRepoMock) {
				tickets.On("Delete", mock.Anything, "t1").Return(pgx.ErrNoRows)
			},
			wantCode: apperrors.CodeNotFound,
		},
		{name: "client forbidden", actor: clientActor("c1"), wantCode: apperrors.CodeForbidden},
		{name: "technician forbidden", actor: technicianActor("tech1"), wantCode: apperrors.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tickets := new(TicketRepoMock)
			if tt.setupMocks != nil {
				tt.setupMocks(tickets)
			}
			svc := NewTicketService(TicketDependencies{TicketRepo: tickets})

			err := svc.Delete(context.Background(), tt.actor, "t1")
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.HasCode(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			tickets.AssertExpectations(t)
		})
	}
}

func TestTicketServiceListHistory(t *testing.T) {
	ticket := &domain.Ticket{ID: "t1", ClientID: "owner"}
	entries := []domain.TicketHistory{{ID: "h1", TicketID: "t1", Field: domain.HistoryFieldStatus}}

	t.Run("owner reads trail", func(t *testing.T) {
		tickets := new(TicketRepoMock)
		history := new(HistoryRepoMock)
		tickets.On("GetByID", mock.Anything, "t1").Return(ticket, nil)
		history.On("ListByTicket", mock.Anything, "t1").Return(entries, nil)
		svc := NewTicketService(TicketDependencies{TicketRepo: tickets, HistoryRepo: history})

		got, err := svc.ListHistory(context.Background(), clientActor("owner"), "t1")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("non-owner client denied as not found", func(t *testing.T) {
		tickets := new(TicketRepoMock)
		history := new(HistoryRepoMock)
		tickets.On("GetByID", mock.Anything, "t1").Return(ticket, nil)
		svc := NewTicketService(TicketDependencies{TicketRepo: tickets, HistoryRepo: history})

		_, err := svc.ListHistory(context.Background(), clientActor("intruder"), "t1")
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
		history.AssertNotCalled(t, "ListByTicket", mock.Anything, mock.Anything)
	})
}
