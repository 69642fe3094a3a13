package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// NotificationStorage implements the NotificationStorage interface for Badger
type NotificationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewNotificationStorage creates a new NotificationStorage instance
func NewNotificationStorage(db *BadgerDB, logger arbor.ILogger) interfaces.NotificationStorage {
	return &NotificationStorage{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new notification record
func (s *NotificationStorage) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		return fmt.Errorf("notification ID is required")
	}

	now := time.Now()
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = now
	}
	notification.UpdatedAt = now

	if err := s.db.Store().Insert(notification.ID, *notification); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	s.logger.Trace().
		Str("notification_id", notification.ID).
		Str("ref_id", notification.RefID).
		Msg("BadgerDB: Notification created")
	return nil
}

// Update applies fn to the stored notification inside a single transaction
func (s *NotificationStorage) Update(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error) {
	var updated models.Notification

	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		if err := s.db.Store().TxGet(tx, id, &updated); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotificationNotFound
			}
			return err
		}

		if err := fn(&updated); err != nil {
			return err
		}
		updated.UpdatedAt = time.Now()

		return s.db.Store().TxUpdate(tx, id, updated)
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// Get retrieves a notification by id
func (s *NotificationStorage) Get(ctx context.Context, id string) (*models.Notification, error) {
	var notification models.Notification
	if err := s.db.Store().Get(id, &notification); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &notification, nil
}

// List returns the most recent notifications first
func (s *NotificationStorage) List(ctx context.Context, limit int) ([]*models.Notification, error) {
	query := (&badgerhold.Query{}).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var notifications []models.Notification
	if err := s.db.Store().Find(&notifications, query); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	return toNotificationPointers(notifications), nil
}

// ListByStatus returns notifications in the given status
func (s *NotificationStorage) ListByStatus(ctx context.Context, status models.NotificationStatus) ([]*models.Notification, error) {
	var notifications []models.Notification
	if err := s.db.Store().Find(&notifications, badgerhold.Where("Status").Eq(status).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list notifications by status: %w", err)
	}

	return toNotificationPointers(notifications), nil
}

func toNotificationPointers(notifications []models.Notification) []*models.Notification {
	result := make([]*models.Notification, 0, len(notifications))
	for i := range notifications {
		result = append(result, &notifications[i])
	}
	return result
}
