package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/fibercore/internal/models"
)

var (
	// ErrJobNotFound is returned when a job id is unknown to the store
	ErrJobNotFound = errors.New("job not found")

	// ErrLeaseLost is returned when a worker finalizes a job it no longer owns
	ErrLeaseLost = errors.New("job lease lost")

	// ErrNotRetryable is returned when a retry targets a job that is not failed
	ErrNotRetryable = errors.New("only failed jobs can be retried")
)

// QueueStore is the durable backing store shared by all named queues.
// Implementations must make Claim atomic: a job is handed to at most one caller
// until it is finalized or its lease expires.
type QueueStore interface {
	// Add stores a new job; NextRunAt in the future makes it delayed
	Add(ctx context.Context, job *models.Job) error

	// Claim moves the earliest eligible job of the queue to active, increments
	// AttemptsMade and sets the lease. Returns models.ErrNoJob when nothing is due.
	Claim(ctx context.Context, queue string, lease time.Duration) (*models.Job, error)

	// Extend pushes the lease of an active job out to now+lease. Returns ErrLeaseLost
	// when the job is no longer held by the attempt that claimed it.
	Extend(ctx context.Context, job *models.Job, lease time.Duration) error

	// Complete finalizes an active job as completed, deleting it when remove is true
	Complete(ctx context.Context, job *models.Job, remove bool) error

	// Retry returns an active job to the delayed set, eligible again at runAt
	Retry(ctx context.Context, job *models.Job, runAt time.Time, reason string) error

	// Fail finalizes an active job as failed, deleting it when remove is true
	Fail(ctx context.Context, job *models.Job, reason string, remove bool) error

	// Requeue moves a failed job back to waiting with a fresh attempt budget.
	// The stored envelope is replaced by envelope.
	Requeue(ctx context.Context, id string, envelope models.Envelope) (*models.Job, error)

	// Get returns a job by id
	Get(ctx context.Context, id string) (*models.Job, error)

	// List returns jobs of a queue in the given state, oldest first (limit <= 0 = all)
	List(ctx context.Context, queue string, state models.JobState, limit int) ([]*models.Job, error)

	// Counts returns per-state job counts of a queue
	Counts(ctx context.Context, queue string) (models.QueueCounts, error)

	// RecoverStalled returns active jobs whose lease expired before now to waiting.
	// Jobs with no attempts left are failed instead.
	RecoverStalled(ctx context.Context, queue string, now time.Time) (int, error)

	// Repeatable job registrations
	SaveRepeatable(ctx context.Context, repeatable *models.RepeatableJob) error
	RemoveRepeatable(ctx context.Context, queue, key string) error
	ListRepeatables(ctx context.Context, queue string) ([]*models.RepeatableJob, error)

	// Clean removes every job of the queue in the given states
	Clean(ctx context.Context, queue string, states ...models.JobState) (int, error)

	// Queues lists every queue name the store has seen
	Queues(ctx context.Context) ([]string, error)

	// Flush drops the entire queue keyspace
	Flush(ctx context.Context) error

	Close() error
}
