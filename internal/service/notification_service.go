package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/desk-kit/helpdesk-service/internal/events"
)

// NotificationService logs notifications for domain events. Delivery
// channels (email, webhooks) sit behind the presentation boundary and
// are out of scope here.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{dispatcher: dispatcher, logger: logger}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketPriorityChanged, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketClaimed, n.logEvent)
	n.dispatcher.Subscribe(events.EventTicketDeleted, n.logEvent)
	n.dispatcher.Subscribe(events.EventUserRoleChanged, n.logEvent)
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	n.logger.Info("domain event",
		zap.String("type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	return nil
}
