package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewInMemoryDispatcher()

	var claimed, deleted []Event
	d.Subscribe(EventTicketClaimed, func(_ context.Context, e Event) error {
		claimed = append(claimed, e)
		return nil
	})
	d.Subscribe(EventTicketDeleted, func(_ context.Context, e Event) error {
		deleted = append(deleted, e)
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClaimed, TicketID: "t1"}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketClaimed, TicketID: "t2"}))

	assert.Len(t, claimed, 2)
	assert.Empty(t, deleted)
	assert.Equal(t, "t1", claimed[0].TicketID)
}

func TestDispatcherHandlerErrorsDoNotFailPublish(t *testing.T) {
	d := NewInMemoryDispatcher()

	var secondRan bool
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		return errors.New("handler failure")
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		secondRan = true
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTicketCreated}))
	assert.True(t, secondRan)
}

func TestDispatcherNoSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher()
	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventUserRoleChanged}))
}
