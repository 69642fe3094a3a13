package interfaces

import (
	"context"

	"github.com/ternarybob/fibercore/internal/models"
)

// JobWorker defines the interface that all queue workers implement.
// The dispatcher uses this interface to execute jobs in a type-agnostic manner.
type JobWorker interface {
	// Execute processes a single job. Returns error if execution fails.
	Execute(ctx context.Context, job *models.Job) error

	// GetWorkerType returns the queue name this worker serves
	GetWorkerType() string

	// Validate validates that the job is compatible with this worker
	Validate(job *models.Job) error
}
