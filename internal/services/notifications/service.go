package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// ErrTerminal is returned when finishing a notification that already reached success or error
var ErrTerminal = errors.New("notification already finished")

// ErrRelayOnly is returned by reads and creates on a relay service
var ErrRelayOnly = errors.New("notification records are owned by the API process")

// CreateRequest describes a new running notification
type CreateRequest struct {
	ID       string // optional, generated when empty
	RefID    string `validate:"required"`
	Title    string `validate:"required"`
	Message  string
	Category string `validate:"required"`
	Link     string
}

// Outcome is the terminal state written by Finish
type Outcome struct {
	Title   string
	Message string
	Status  models.NotificationStatus
}

// Service owns the notification lifecycle: created running, finished exactly once
type Service struct {
	storage  interfaces.NotificationStorage
	emitter  Emitter
	logger   arbor.ILogger
	validate *validator.Validate
	relay    bool
}

// NewService creates a notification service
func NewService(storage interfaces.NotificationStorage, emitter Emitter, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		emitter:  emitter,
		logger:   logger,
		validate: validator.New(),
	}
}

// NewRelayService creates a service for a worker process that does not own the
// notification records. Finish sends the outcome through the emitter and the API
// process applies it to its store.
func NewRelayService(emitter Emitter, logger arbor.ILogger) *Service {
	return &Service{
		emitter:  emitter,
		logger:   logger,
		validate: validator.New(),
		relay:    true,
	}
}

// Create persists a running notification and broadcasts new-notification
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Notification, error) {
	if s.relay {
		return nil, ErrRelayOnly
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}

	id := req.ID
	if id == "" {
		id = common.NewNotificationID()
	}

	notification := &models.Notification{
		ID:        id,
		RefID:     req.RefID,
		Title:     req.Title,
		Message:   req.Message,
		Category:  req.Category,
		Link:      req.Link,
		Status:    models.NotificationRunning,
		IsLoading: true,
	}

	if err := s.storage.Create(ctx, notification); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("notification_id", notification.ID).
		Str("ref_id", notification.RefID).
		Str("category", notification.Category).
		Msg("Notification created")

	s.emit(ctx, models.EventNewNotification, notification)
	return notification, nil
}

// Finish moves a running notification to its terminal state and broadcasts
// update-notification. Terminal states are final: a second call returns ErrTerminal.
func (s *Service) Finish(ctx context.Context, id string, outcome Outcome) (*models.Notification, error) {
	if !outcome.Status.IsTerminal() {
		return nil, fmt.Errorf("invalid terminal status %q", outcome.Status)
	}
	if s.relay {
		return s.relayFinish(ctx, id, outcome)
	}

	notification, err := s.storage.Update(ctx, id, func(n *models.Notification) error {
		if n.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, n.ID, n.Status)
		}
		if outcome.Title != "" {
			n.Title = outcome.Title
		}
		if outcome.Message != "" {
			n.Message = outcome.Message
		}
		n.Status = outcome.Status
		n.IsLoading = false
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("notification_id", notification.ID).
		Str("ref_id", notification.RefID).
		Str("status", string(notification.Status)).
		Msg("Notification finished")

	s.emit(ctx, models.EventUpdateNotification, notification)
	return notification, nil
}

// Reopen creates a running notification for a job re-run after the notification
// id finished. The new record keeps the ref id, category and link of the old one.
func (s *Service) Reopen(ctx context.Context, id string) (string, error) {
	previous, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !previous.Status.IsTerminal() {
		return "", fmt.Errorf("notification %s is still %s", id, previous.Status)
	}

	notification, err := s.Create(ctx, CreateRequest{
		RefID:    previous.RefID,
		Title:    "Retrying: " + previous.Title,
		Message:  "Please wait, the operation is running again",
		Category: previous.Category,
		Link:     previous.Link,
	})
	if err != nil {
		return "", err
	}
	return notification.ID, nil
}

// Abandon finishes a reopened notification as error when its job was not re-run
func (s *Service) Abandon(ctx context.Context, id string, reason string) {
	_, err := s.Finish(ctx, id, Outcome{
		Message: reason,
		Status:  models.NotificationError,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("notification_id", id).Msg("Failed to abandon notification")
	}
}

func (s *Service) relayFinish(ctx context.Context, id string, outcome Outcome) (*models.Notification, error) {
	notification := &models.Notification{
		ID:        id,
		Title:     outcome.Title,
		Message:   outcome.Message,
		Status:    outcome.Status,
		IsLoading: false,
		UpdatedAt: time.Now(),
	}
	if s.emitter == nil {
		return nil, fmt.Errorf("relay service has no emitter")
	}
	if err := s.emitter.Emit(ctx, models.EventUpdateNotification, notification); err != nil {
		return nil, fmt.Errorf("failed to relay outcome of %s: %w", id, err)
	}
	return notification, nil
}

// Get returns a notification by id
func (s *Service) Get(ctx context.Context, id string) (*models.Notification, error) {
	if s.relay {
		return nil, ErrRelayOnly
	}
	return s.storage.Get(ctx, id)
}

// List returns the most recent notifications
func (s *Service) List(ctx context.Context, limit int) ([]*models.Notification, error) {
	if s.relay {
		return nil, ErrRelayOnly
	}
	return s.storage.List(ctx, limit)
}

// ListRunning returns the notifications still waiting for an outcome
func (s *Service) ListRunning(ctx context.Context) ([]*models.Notification, error) {
	if s.relay {
		return nil, ErrRelayOnly
	}
	return s.storage.ListByStatus(ctx, models.NotificationRunning)
}

// emit broadcasts best-effort; failures never reach the caller
func (s *Service) emit(ctx context.Context, event string, notification *models.Notification) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event, notification); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", event).
			Str("notification_id", notification.ID).
			Msg("Failed to broadcast notification event")
	}
}
