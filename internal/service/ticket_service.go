package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/desk-kit/helpdesk-service/internal/authz"
	"github.com/desk-kit/helpdesk-service/internal/cache"
	"github.com/desk-kit/helpdesk-service/internal/domain"
	"github.com/desk-kit/helpdesk-service/internal/events"
	"github.com/desk-kit/helpdesk-service/internal/repository"
	apperrors "github.com/desk-kit/helpdesk-service/pkg/util"
)

// TicketService owns the ticket lifecycle: creation, guarded field
// updates, deletion, and visibility-scoped reads.
type TicketService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Cache       cache.Cache
	CacheTTL    time.Duration
	Logger      *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Category    *string
}

// TicketListFilter describes listing filters. Visibility scoping is
// applied on top of it from the actor's role.
type TicketListFilter struct {
	Statuses    []domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		logger:     logger,
	}
}

// Create files a new ticket owned by the acting client. Status is
// always open at birth; the owner is immutable afterwards.
func (s *TicketService) Create(ctx context.Context, actor *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if !authz.Can(actor.Role, authz.OpCreateTicket) {
		return nil, apperrors.NewForbidden("role may not create tickets")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description required", nil)
	}

	ticket := &domain.Ticket{
		Title:       title,
		Description: description,
		Status:      domain.TicketStatusOpen,
		Priority:    input.Priority,
		Category:    input.Category,
		ClientID:    actor.ID,
	}
	if ticket.Priority == "" {
		ticket.Priority = domain.TicketPriorityMedium
	}

	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    actorOf(actor),
		Payload: events.TicketCreatedPayload{
			Title:    ticket.Title,
			Priority: ticket.Priority,
			ClientID: ticket.ClientID,
		},
	})
	return ticket, nil
}

// UpdateFields applies a partial update. Authorization is evaluated for
// every present field before anything mutates: a patch carrying even one
// forbidden field is rejected in full.
func (s *TicketService) UpdateFields(ctx context.Context, actor *domain.User, ticketID string, patch domain.TicketPatch) (*domain.Ticket, error) {
	if patch.Empty() {
		return nil, apperrors.NewValidationError("empty patch", nil)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}

	if err := s.authorizePatch(actor, ticket, patch); err != nil {
		return nil, err
	}

	oldStatus := ticket.Status
	oldPriority := ticket.Priority

	// Only the patched columns reach the store; a claim committing
	// between the read above and the write below is never overwritten.
	var update repository.TicketUpdate
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, apperrors.NewValidationError("title cannot be empty", nil)
		}
		update.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		if description == "" {
			return nil, apperrors.NewValidationError("description cannot be empty", nil)
		}
		update.Description = &description
	}
	if patch.Status != nil {
		next := *patch.Status
		if _, err := domain.ParseTicketStatus(string(next)); err != nil {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": next})
		}
		if !domain.CanTransition(ticket.Status, next) {
			return nil, apperrors.NewConflict("illegal status transition", map[string]any{
				"from": ticket.Status,
				"to":   next,
			})
		}
		update.Status = &next
		update.ExpectedStatus = ticket.Status
	}
	if patch.Priority != nil {
		update.Priority = patch.Priority
	}
	if patch.Category != nil {
		update.Category = patch.Category
	}

	updated, err := s.tickets.Update(ctx, ticketID, update)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleStatus):
			// The transition was validated against a status the row no
			// longer holds; the caller may retry from a fresh read.
			return nil, apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": ticketID})
		case errors.Is(err, pgx.ErrNoRows):
			// Read succeeded but the row vanished before the write.
			return nil, apperrors.NewConflict("ticket was concurrently deleted", map[string]any{"ticket_id": ticketID})
		default:
			return nil, apperrors.MapError(err)
		}
	}
	s.invalidate(ctx, updated.ID)

	if update.Status != nil && updated.Status != oldStatus {
		s.recordChange(ctx, actor.ID, updated.ID, domain.HistoryFieldStatus, string(oldStatus), string(updated.Status))
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			TicketID: updated.ID,
			Actor:    actorOf(actor),
			Payload: events.TicketStatusChangedPayload{
				OldStatus: oldStatus,
				NewStatus: updated.Status,
			},
		})
	}
	if update.Priority != nil && updated.Priority != oldPriority {
		s.recordChange(ctx, actor.ID, updated.ID, domain.HistoryFieldPriority, string(oldPriority), string(updated.Priority))
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketPriorityChanged,
			TicketID: updated.ID,
			Actor:    actorOf(actor),
			Payload: events.TicketPriorityChangedPayload{
				OldPriority: oldPriority,
				NewPriority: updated.Priority,
			},
		})
	}
	return updated, nil
}

// Delete removes a ticket. Admin only. A second delete of the same id
// reports NotFound rather than an error state.
func (s *TicketService) Delete(ctx context.Context, actor *domain.User, ticketID string) error {
	if !authz.Can(actor.Role, authz.OpDeleteTicket) {
		return apperrors.NewForbidden("only admins may delete tickets")
	}
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	s.invalidate(ctx, ticketID)
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketDeleted,
		TicketID: ticketID,
		Actor:    actorOf(actor),
	})
	return nil
}

// Get fetches a single ticket, enforcing ownership for clients.
func (s *TicketService) Get(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if ticket, ok := s.cached(ctx, ticketID); ok {
		return s.checkVisibility(actor, ticket)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	s.store(ctx, ticket)
	return s.checkVisibility(actor, ticket)
}

// List returns the tickets visible to the actor, newest first. Clients
// are always scoped to their own tickets regardless of the filter.
func (s *TicketService) List(ctx context.Context, actor *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	decision := authz.Check(actor.Role, authz.OpViewTicketList)
	if !decision.Allowed {
		return nil, apperrors.NewForbidden("role may not list tickets")
	}

	repoFilter := repository.TicketFilter{
		Statuses:    filter.Statuses,
		CreatedFrom: filter.CreatedFrom,
		CreatedTo:   filter.CreatedTo,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	}
	if decision.Constraint == authz.ConstraintOwnTicketsOnly {
		clientID := actor.ID
		repoFilter.ClientID = &clientID
	}

	tickets, err := s.tickets.ListWithFilter(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// ListHistory returns the audit trail of a ticket the actor may view.
func (s *TicketService) ListHistory(ctx context.Context, actor *domain.User, ticketID string) ([]domain.TicketHistory, error) {
	if _, err := s.Get(ctx, actor, ticketID); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// authorizePatch evaluates the capability table per present field.
func (s *TicketService) authorizePatch(actor *domain.User, ticket *domain.Ticket, patch domain.TicketPatch) error {
	if patch.Title != nil || patch.Description != nil || patch.Category != nil {
		if err := checkFieldCapability(actor, ticket, authz.OpEditTitleDescription); err != nil {
			return err
		}
	}
	if patch.Status != nil {
		if err := checkFieldCapability(actor, ticket, authz.OpEditStatus); err != nil {
			return err
		}
	}
	if patch.Priority != nil {
		if err := checkFieldCapability(actor, ticket, authz.OpEditPriority); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldCapability(actor *domain.User, ticket *domain.Ticket, op authz.Operation) error {
	decision := authz.Check(actor.Role, op)
	if !decision.Allowed {
		return apperrors.NewForbidden("field not editable by role")
	}
	if decision.Constraint == authz.ConstraintOwnerOnly && ticket.ClientID != actor.ID {
		return apperrors.NewForbidden("not the ticket owner")
	}
	return nil
}

func (s *TicketService) checkVisibility(actor *domain.User, ticket *domain.Ticket) (*domain.Ticket, error) {
	decision := authz.Check(actor.Role, authz.OpViewTicketList)
	if !decision.Allowed {
		return nil, apperrors.NewForbidden("role may not view tickets")
	}
	if decision.Constraint == authz.ConstraintOwnTicketsOnly && ticket.ClientID != actor.ID {
		// Hide existence from non-owners.
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
	}
	return ticket, nil
}

func (s *TicketService) cached(ctx context.Context, ticketID string) (*domain.Ticket, bool) {
	if s.cache == nil {
		return nil, false
	}
	var ticket domain.Ticket
	found, err := s.cache.Get(ctx, cache.TicketKey(ticketID), &ticket)
	if err != nil {
		s.logger.Warn("ticket cache read failed", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	return &ticket, true
}

func (s *TicketService) store(ctx context.Context, ticket *domain.Ticket) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cache.TicketKey(ticket.ID), ticket, s.cacheTTL); err != nil {
		s.logger.Warn("ticket cache write failed", zap.Error(err))
	}
}

func (s *TicketService) invalidate(ctx context.Context, ticketID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cache.TicketKey(ticketID)); err != nil {
		s.logger.Warn("ticket cache invalidation failed", zap.Error(err))
	}
}

func (s *TicketService) recordChange(ctx context.Context, actorID, ticketID, field, oldValue, newValue string) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:  ticketID,
		ChangedBy: actorID,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("history write failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}

func actorOf(user *domain.User) events.Actor {
	return events.Actor{UserID: user.ID, Role: user.Role}
}
