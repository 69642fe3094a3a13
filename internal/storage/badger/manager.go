package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	notification interfaces.NotificationStorage
	olt          interfaces.OltStorage
	onu          interfaces.OnuStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger)
	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// NewManagerFromDB builds a manager over an already open database
func NewManagerFromDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	return newManager(db, logger)
}

func newManager(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:           db,
		notification: NewNotificationStorage(db, logger),
		olt:          NewOltStorage(db, logger),
		onu:          NewOnuStorage(db, logger),
		logger:       logger,
	}
}

// NotificationStorage returns the Notification storage interface
func (m *Manager) NotificationStorage() interfaces.NotificationStorage {
	return m.notification
}

// OltStorage returns the OLT storage interface
func (m *Manager) OltStorage() interfaces.OltStorage {
	return m.olt
}

// OnuStorage returns the ONU storage interface
func (m *Manager) OnuStorage() interfaces.OnuStorage {
	return m.onu
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// NewQueueStore returns a queue store sharing this manager's database
func (m *Manager) NewQueueStore() (*QueueStore, error) {
	return NewQueueStore(m.db.Badger(), m.logger)
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// LoadOltsFromFiles loads the OLT inventory from TOML files
func (m *Manager) LoadOltsFromFiles(ctx context.Context, dirPath string) error {
	return LoadOltsFromFiles(ctx, m.olt, dirPath, m.logger)
}
