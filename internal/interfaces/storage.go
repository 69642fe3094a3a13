package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/fibercore/internal/models"
)

var (
	// ErrNotificationNotFound is returned when a notification id is unknown
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrOltNotFound is returned when an OLT slug is not in the inventory
	ErrOltNotFound = errors.New("olt not found")

	// ErrOnuNotFound is returned when an ONU record does not exist
	ErrOnuNotFound = errors.New("onu not found")
)

// NotificationStorage persists notification records.
// Writes are single badger transactions so concurrent API reads see whole records.
type NotificationStorage interface {
	Create(ctx context.Context, notification *models.Notification) error
	// Update applies fn to the stored record inside one transaction and returns the result
	Update(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)
	List(ctx context.Context, limit int) ([]*models.Notification, error)
	ListByStatus(ctx context.Context, status models.NotificationStatus) ([]*models.Notification, error)
}

// OltStorage holds the OLT inventory and the last synchronized device state
type OltStorage interface {
	SaveOlt(ctx context.Context, olt *models.Olt) error
	GetOlt(ctx context.Context, slug string) (*models.Olt, error)
	ListOlts(ctx context.Context) ([]*models.Olt, error)

	GetSnapshot(ctx context.Context, slug string) (*models.OltSnapshot, error)
	// UpdateSnapshot loads (or creates) the snapshot, applies fn and stores it
	UpdateSnapshot(ctx context.Context, slug string, fn func(s *models.OltSnapshot)) (*models.OltSnapshot, error)
}

// OnuStorage persists subscriber ONU records
type OnuStorage interface {
	SaveOnu(ctx context.Context, onu *models.Onu) error
	GetOnu(ctx context.Context, id string) (*models.Onu, error)
	ListOnus(ctx context.Context, oltSlug string) ([]*models.Onu, error)
	DeleteOnu(ctx context.Context, id string) error
}

// StorageManager aggregates the record storages sharing one database
type StorageManager interface {
	NotificationStorage() NotificationStorage
	OltStorage() OltStorage
	OnuStorage() OnuStorage
	// DB returns the underlying database handle
	DB() interface{}
	Close() error
}
