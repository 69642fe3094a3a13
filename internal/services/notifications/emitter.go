package notifications

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/httpclient"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// Emitter delivers notification events to live clients
type Emitter interface {
	Emit(ctx context.Context, event string, notification *models.Notification) error
}

// EmitRequest is the body accepted by the API's /internal/emit endpoint
type EmitRequest struct {
	Event string                   `json:"event" validate:"required,oneof=new-notification update-notification"`
	Data  models.NotificationEvent `json:"data"`
}

// LocalEmitter publishes on the in-process event bus
type LocalEmitter struct {
	events interfaces.EventService
}

// NewLocalEmitter creates an emitter over the event service
func NewLocalEmitter(events interfaces.EventService) *LocalEmitter {
	return &LocalEmitter{events: events}
}

// Emit publishes asynchronously
func (e *LocalEmitter) Emit(ctx context.Context, event string, notification *models.Notification) error {
	return e.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventType(event),
		Payload: models.NotificationEvent{Notification: notification},
	})
}

// HTTPEmitter posts events to the API process when workers run out of process
type HTTPEmitter struct {
	url    string
	client *http.Client
	logger arbor.ILogger
}

// NewHTTPEmitter creates an emitter posting to url
func NewHTTPEmitter(url string, timeout time.Duration, logger arbor.ILogger) *HTTPEmitter {
	return &HTTPEmitter{
		url:    url,
		client: httpclient.NewDefaultHTTPClient(timeout),
		logger: logger,
	}
}

// Emit posts {event, data} to the API
func (e *HTTPEmitter) Emit(ctx context.Context, event string, notification *models.Notification) error {
	return httpclient.PostJSON(ctx, e.client, e.url, EmitRequest{
		Event: event,
		Data:  models.NotificationEvent{Notification: notification},
	})
}

// NewEmitter selects the emitter for emitter.mode
func NewEmitter(config common.EmitterConfig, events interfaces.EventService, logger arbor.ILogger) Emitter {
	if config.Mode == "http" {
		logger.Debug().Str("url", config.URL).Msg("Notification events posted over HTTP")
		return NewHTTPEmitter(config.URL, 5*time.Second, logger)
	}
	return NewLocalEmitter(events)
}
