package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// Queue is a handle on one named queue
type Queue struct {
	Name    string
	manager *Manager
}

// Add enqueues a job on this queue
func (q *Queue) Add(ctx context.Context, jobName string, envelope models.Envelope, opts models.JobOptions) (*models.Job, error) {
	return q.manager.Enqueue(ctx, q.Name, jobName, envelope, opts)
}

// Notifier opens a running notification for a job re-run after its previous
// notification already finished
type Notifier interface {
	// Reopen creates a running notification modelled on the finished one and returns its id
	Reopen(ctx context.Context, notificationID string) (string, error)
	// Abandon finishes a reopened notification whose job never re-ran
	Abandon(ctx context.Context, notificationID string, reason string)
}

// Manager is the registry of named queues sharing one backing store
type Manager struct {
	store     interfaces.QueueStore
	logger    arbor.ILogger
	validate  *validator.Validate
	scheduler *Scheduler
	notifier  Notifier

	mu     sync.RWMutex
	queues map[string]*Queue
	paused map[string]bool
}

// NewManager creates a queue manager over the given store
func NewManager(store interfaces.QueueStore, logger arbor.ILogger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger,
		validate: validator.New(),
		queues:   make(map[string]*Queue),
		paused:   make(map[string]bool),
	}
}

// Store returns the backing store
func (m *Manager) Store() interfaces.QueueStore {
	return m.store
}

// SetNotifier sets the notifier used by Retry
func (m *Manager) SetNotifier(notifier Notifier) {
	m.notifier = notifier
}

// CreateQueue returns the queue with the given name, creating it on first use.
// Calls with the same name share the queue.
func (m *Manager) CreateQueue(name string) (*Queue, error) {
	if name == "" || strings.ContainsAny(name, ": ") {
		return nil, fmt.Errorf("invalid queue name %q", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok {
		return q, nil
	}

	q := &Queue{Name: name, manager: m}
	m.queues[name] = q
	m.logger.Debug().Str("queue", name).Msg("Queue created")
	return q, nil
}

// Queue returns a previously created queue
func (m *Manager) Queue(name string) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q, nil
}

// Names returns the created queue names in sorted order
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enqueue submits a job. Store failures are returned to the caller.
// When opts.Repeat is set the job is registered as a repeatable instead and the
// returned handle describes the registration (ID and RepeatKey are the repeat key).
func (m *Manager) Enqueue(ctx context.Context, queueName, jobName string, envelope models.Envelope, opts models.JobOptions) (*models.Job, error) {
	if _, err := m.Queue(queueName); err != nil {
		return nil, err
	}
	if err := m.validate.Struct(envelope); err != nil {
		return nil, fmt.Errorf("invalid job envelope: %w", err)
	}

	if opts.Repeat != nil {
		return m.addRepeatable(ctx, queueName, jobName, envelope, opts)
	}

	return m.addJob(ctx, queueName, jobName, envelope, opts, "")
}

func (m *Manager) addJob(ctx context.Context, queueName, jobName string, envelope models.Envelope, opts models.JobOptions, repeatKey string) (*models.Job, error) {
	now := time.Now()
	job := &models.Job{
		ID:        common.NewJobID(),
		Queue:     queueName,
		Name:      jobName,
		Envelope:  envelope,
		Options:   opts,
		RepeatKey: repeatKey,
		CreatedAt: now,
		NextRunAt: now.Add(opts.Delay),
	}

	if err := m.store.Add(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job on %s: %w", queueName, err)
	}

	m.logger.Debug().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Str("correlation_id", envelope.CorrelationID).
		Str("state", string(job.State)).
		Msg("Job enqueued")

	return job, nil
}

// addRepeatable stores a cron registration. A registration with the same job name
// but a different schedule replaces the old one.
func (m *Manager) addRepeatable(ctx context.Context, queueName, jobName string, envelope models.Envelope, opts models.JobOptions) (*models.Job, error) {
	schedule, err := cron.ParseStandard(opts.Repeat.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid repeat cron %q: %w", opts.Repeat.Cron, err)
	}

	key := repeatKey(jobName, opts.Repeat.Cron)

	existing, err := m.store.ListRepeatables(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("failed to list repeatables of %s: %w", queueName, err)
	}
	for _, old := range existing {
		if old.Name == jobName && old.Key != key {
			if err := m.removeRepeatable(ctx, queueName, old.Key); err != nil {
				return nil, err
			}
		}
	}

	repeatable := &models.RepeatableJob{
		Key:       key,
		Queue:     queueName,
		Name:      jobName,
		Cron:      opts.Repeat.Cron,
		Envelope:  envelope,
		Options:   opts,
		CreatedAt: time.Now(),
	}
	repeatable.Options.Repeat = nil

	if err := m.store.SaveRepeatable(ctx, repeatable); err != nil {
		return nil, fmt.Errorf("failed to save repeatable on %s: %w", queueName, err)
	}
	if m.scheduler != nil {
		if err := m.scheduler.schedule(repeatable); err != nil {
			return nil, err
		}
	}

	m.logger.Info().
		Str("queue", queueName).
		Str("repeat_key", key).
		Str("cron", opts.Repeat.Cron).
		Msg("Repeatable job registered")

	return &models.Job{
		ID:        key,
		Queue:     queueName,
		Name:      jobName,
		Envelope:  envelope,
		Options:   opts,
		State:     models.JobStateDelayed,
		RepeatKey: key,
		CreatedAt: repeatable.CreatedAt,
		NextRunAt: schedule.Next(time.Now()),
	}, nil
}

func (m *Manager) removeRepeatable(ctx context.Context, queueName, key string) error {
	if err := m.store.RemoveRepeatable(ctx, queueName, key); err != nil {
		return fmt.Errorf("failed to remove repeatable %s: %w", key, err)
	}
	if m.scheduler != nil {
		m.scheduler.unschedule(queueName, key)
	}
	return nil
}

// Get returns a job by id
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// Stats returns per-state counts for every known queue
func (m *Manager) Stats(ctx context.Context) ([]models.QueueCounts, error) {
	names, err := m.knownQueues(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]models.QueueCounts, 0, len(names))
	for _, name := range names {
		counts, err := m.store.Counts(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to count queue %s: %w", name, err)
		}
		stats = append(stats, counts)
	}
	return stats, nil
}

// Failed lists terminal failed jobs of a queue
func (m *Manager) Failed(ctx context.Context, queueName string, limit int) ([]*models.Job, error) {
	return m.store.List(ctx, queueName, models.JobStateFailed, limit)
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
// A job whose notification already finished gets a new running notification,
// so the re-run reports its outcome on a record that can still change.
func (m *Manager) Retry(ctx context.Context, id string) (*models.Job, error) {
	failed, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.State != models.JobStateFailed {
		return nil, fmt.Errorf("%w: job %s is %s", interfaces.ErrNotRetryable, id, failed.State)
	}

	envelope := failed.Envelope
	reopened := ""
	if envelope.NotificationID != "" {
		reopened = m.reopen(ctx, failed)
		envelope.NotificationID = reopened
	}

	job, err := m.store.Requeue(ctx, id, envelope)
	if err != nil {
		if reopened != "" {
			m.notifier.Abandon(ctx, reopened, fmt.Sprintf("Retry of job %s rejected: %v", id, err))
		}
		return nil, err
	}

	m.logger.Info().
		Str("job_id", id).
		Str("queue", job.Queue).
		Str("correlation_id", job.Envelope.CorrelationID).
		Str("notification_id", job.Envelope.NotificationID).
		Msg("Failed job re-queued")
	return job, nil
}

// reopen returns the id of a new running notification for the job, or "" when
// none can be created. The finished notification is never reused.
func (m *Manager) reopen(ctx context.Context, job *models.Job) string {
	if m.notifier == nil {
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("notification_id", job.Envelope.NotificationID).
			Msg("No notifier configured, re-run will not be reported")
		return ""
	}

	id, err := m.notifier.Reopen(ctx, job.Envelope.NotificationID)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("notification_id", job.Envelope.NotificationID).
			Msg("Failed to reopen notification, re-run will not be reported")
		return ""
	}
	return id
}

// Pause stops local workers from claiming jobs of the queue
func (m *Manager) Pause(name string) {
	m.mu.Lock()
	m.paused[name] = true
	m.mu.Unlock()
}

// Resume lets local workers claim jobs of the queue again
func (m *Manager) Resume(name string) {
	m.mu.Lock()
	delete(m.paused, name)
	m.mu.Unlock()
}

// IsPaused reports whether the queue is paused
func (m *Manager) IsPaused(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[name]
}

// knownQueues merges locally created queues with those present in the store
func (m *Manager) knownQueues(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, name := range m.Names() {
		seen[name] = true
	}

	stored, err := m.store.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	for _, name := range stored {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func repeatKey(jobName, cronExpr string) string {
	return jobName + ":" + cronExpr
}
