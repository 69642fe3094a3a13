package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs notification events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		var notification *models.Notification
		switch payload := event.Payload.(type) {
		case models.NotificationEvent:
			notification = payload.Notification
		case *models.NotificationEvent:
			if payload != nil {
				notification = payload.Notification
			}
		}

		if notification == nil {
			logger.Debug().
				Str("event_type", string(event.Type)).
				Msg("Event published")
			return nil
		}

		logger.Debug().
			Str("event_type", string(event.Type)).
			Str("notification_id", notification.ID).
			Str("ref_id", notification.RefID).
			Str("status", string(notification.Status)).
			Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to the notification event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventNotificationCreated,
		interfaces.EventNotificationUpdated,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to notification events")

	return nil
}
