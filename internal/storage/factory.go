package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/storage/badger"
	"github.com/ternarybob/fibercore/internal/storage/redis"
)

// NewStorageManager opens the Badger record store
func NewStorageManager(logger arbor.ILogger, config *common.Config) (*badger.Manager, error) {
	return badger.NewManager(logger, &config.Storage.Badger)
}

// NewQueueStore creates the queue backend selected by queue.backend.
// The badger backend shares the record store's database.
func NewQueueStore(ctx context.Context, logger arbor.ILogger, config *common.Config, manager *badger.Manager) (interfaces.QueueStore, error) {
	switch config.Queue.Backend {
	case "", "badger":
		return manager.NewQueueStore()
	case "redis":
		return redis.NewQueueStore(ctx, config.Queue.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s (valid: badger, redis)", config.Queue.Backend)
	}
}
