package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/desk-kit/helpdesk-service/internal/authz"
	"github.com/desk-kit/helpdesk-service/internal/domain"
	"github.com/desk-kit/helpdesk-service/internal/events"
	"github.com/desk-kit/helpdesk-service/internal/repository"
	apperrors "github.com/desk-kit/helpdesk-service/pkg/util"
)

// UserService covers admin account management: role changes, listing,
// and guarded deletion.
type UserService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
}

// NewUserService builds the service.
func NewUserService(users repository.UserRepository, dispatcher events.Dispatcher) *UserService {
	return &UserService{users: users, dispatcher: dispatcher}
}

// ChangeRole sets a new role on the target account. Admin only, and
// never against the acting admin's own account.
func (s *UserService) ChangeRole(ctx context.Context, actor *domain.User, targetID string, newRole domain.Role) (*domain.User, error) {
	decision := authz.Check(actor.Role, authz.OpChangeUserRole)
	if !decision.Allowed {
		return nil, apperrors.NewForbidden("only admins may change roles")
	}
	if decision.Constraint == authz.ConstraintNotSelf && targetID == actor.ID {
		return nil, apperrors.NewForbidden("cannot change own role")
	}
	if _, err := domain.ParseRole(string(newRole)); err != nil {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": newRole})
	}

	target, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": targetID})
		}
		return nil, apperrors.MapError(err)
	}
	oldRole := target.Role

	updated, err := s.users.UpdateRole(ctx, targetID, newRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": targetID})
		}
		return nil, apperrors.MapError(err)
	}

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventUserRoleChanged,
			Actor:     actorOf(actor),
			Timestamp: time.Now(),
			Payload: events.UserRoleChangedPayload{
				TargetUserID: targetID,
				OldRole:      oldRole,
				NewRole:      newRole,
			},
		})
	}
	return updated, nil
}

// Delete removes an account. Admin only, never the actor's own account,
// and never an account still referenced by tickets.
func (s *UserService) Delete(ctx context.Context, actor *domain.User, targetID string) error {
	decision := authz.Check(actor.Role, authz.OpDeleteUser)
	if !decision.Allowed {
		return apperrors.NewForbidden("only admins may delete users")
	}
	if decision.Constraint == authz.ConstraintNotSelf && targetID == actor.ID {
		return apperrors.NewForbidden("cannot delete own account")
	}

	if err := s.users.Delete(ctx, targetID); err != nil {
		switch {
		case errors.Is(err, repository.ErrUserOwnsTickets):
			return apperrors.NewConflict("user still owns tickets", map[string]any{"user_id": targetID})
		case errors.Is(err, pgx.ErrNoRows):
			return apperrors.NewNotFound("user", map[string]any{"user_id": targetID})
		default:
			return apperrors.MapError(err)
		}
	}
	return nil
}

// List returns every account. Admin only.
func (s *UserService) List(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("only admins may list users")
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// Get returns a single account. Admins may fetch anyone; other roles
// only themselves.
func (s *UserService) Get(ctx context.Context, actor *domain.User, targetID string) (*domain.User, error) {
	if actor.Role != domain.RoleAdmin && actor.ID != targetID {
		return nil, apperrors.NewForbidden("access denied")
	}
	user, err := s.users.GetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("user", map[string]any{"user_id": targetID})
		}
		return nil, apperrors.MapError(err)
	}
	return user, nil
}
