package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"golang.org/x/time/rate"
)

// EventSubscriber bridges event bus events to the websocket broadcaster
type EventSubscriber struct {
	broadcaster  interfaces.Broadcaster
	eventService interfaces.EventService
	logger       arbor.ILogger
	throttlers   map[string]*rate.Limiter // Rate limiters for high-frequency events
}

// NewEventSubscriber creates a subscriber and registers it for notification and queue events.
// Notification lifecycle events are never throttled: a dropped update-notification would
// leave a client showing a spinner for a finished operation.
func NewEventSubscriber(broadcaster interfaces.Broadcaster, eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *EventSubscriber {
	s := &EventSubscriber{
		broadcaster:  broadcaster,
		eventService: eventService,
		logger:       logger,
		throttlers:   make(map[string]*rate.Limiter),
	}

	if config != nil {
		for eventType, intervalStr := range config.ThrottleIntervals {
			if isNotificationEvent(eventType) {
				logger.Warn().Str("event_type", eventType).Msg("Notification events cannot be throttled - ignoring throttle interval")
				continue
			}
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
				continue
			}
			// 1 event per interval (burst=1)
			s.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
		}
	}

	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscriptions will be skipped")
		return s
	}

	s.SubscribeAll()
	return s
}

// SubscribeAll registers the subscriber for every event live clients receive
func (s *EventSubscriber) SubscribeAll() {
	for _, eventType := range []interfaces.EventType{
		interfaces.EventNotificationCreated,
		interfaces.EventNotificationUpdated,
		interfaces.EventQueueStats,
	} {
		if err := s.eventService.Subscribe(eventType, s.handleEvent); err != nil {
			s.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe to event")
		}
	}
	s.logger.Debug().Msg("EventSubscriber registered for notification and queue events")
}

func (s *EventSubscriber) handleEvent(ctx context.Context, event interfaces.Event) error {
	eventType := string(event.Type)
	if !s.shouldBroadcastEvent(eventType) {
		return nil
	}
	return s.broadcaster.Broadcast(ctx, eventType, event.Payload)
}

// shouldBroadcastEvent applies the per-event throttle, if any
func (s *EventSubscriber) shouldBroadcastEvent(eventType string) bool {
	limiter, ok := s.throttlers[eventType]
	if !ok {
		return true
	}
	if !limiter.Allow() {
		s.logger.Trace().Str("event_type", eventType).Msg("Event throttled")
		return false
	}
	return true
}

func isNotificationEvent(eventType string) bool {
	return eventType == string(interfaces.EventNotificationCreated) || eventType == string(interfaces.EventNotificationUpdated)
}
