package service

import (
	"context"
	"errors"
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

// AssignmentService decides whether a technician may claim an
// unassigned ticket.
type AssignmentService struct {
	tickets    repository.TicketRepository
	history    repository.TicketHistoryRepository
	dispatcher events.Dispatcher
	cache      cache.Cache
	logger     *zap.Logger
}

// AssignmentDependencies bundles collaborators.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	HistoryRepo repository.TicketHistoryRepository
	Dispatcher  events.Dispatcher
	Cache       cache.Cache
	Logger      *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		tickets:    deps.TicketRepo,
		history:    deps.HistoryRepo,
		dispatcher: deps.Dispatcher,
		cache:      deps.Cache,
		logger:     logger,
	}
}

// Claim assigns the acting technician to an unassigned ticket. The
// assignment and the open/reopened -> in_progress transition commit as
// one conditional update; under concurrent claims exactly one caller
// wins and the rest receive AlreadyAssigned.
func (s *AssignmentService) Claim(ctx context.Context, actor *domain.User, ticketID string) (*domain.Ticket, error) {
	if !authz.Can(actor.Role, authz.OpAssignSelf) {
		return nil, apperrors.NewForbidden("only technicians may claim tickets")
	}

	ticket, err := s.tickets.Claim(ctx, ticketID, actor.ID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyAssigned):
			return nil, apperrors.NewAlreadyAssigned(ticketID)
		case errors.Is(err, repository.ErrNotClaimable):
			return nil, apperrors.NewConflict("ticket not claimable in its current status", map[string]any{"ticket_id": ticketID})
		case errors.Is(err, pgx.ErrNoRows):
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		default:
			return nil, apperrors.MapError(err)
		}
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cache.TicketKey(ticketID)); err != nil {
			s.logger.Warn("ticket cache invalidation failed", zap.Error(err))
		}
	}
	s.recordClaim(ctx, actor.ID, ticket)
	s.publish(ctx, actor, ticket)
	return ticket, nil
}

func (s *AssignmentService) recordClaim(ctx context.Context, actorID string, ticket *domain.Ticket) {
	if s.history == nil {
		return
	}
	entry := &domain.TicketHistory{
		TicketID:  ticket.ID,
		ChangedBy: actorID,
		Field:     domain.HistoryFieldTechnician,
		OldValue:  "",
		NewValue:  actorID,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("history write failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *AssignmentService) publish(ctx context.Context, actor *domain.User, ticket *domain.Ticket) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventTicketClaimed,
		TicketID:  ticket.ID,
		Actor:     actorOf(actor),
		Timestamp: time.Now(),
		Payload:   events.TicketClaimedPayload{TechnicianID: actor.ID},
	})
}
