package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
)

// Scheduler turns persisted repeatable registrations into job instances on their cron schedule.
// Only one process per backing store should run a scheduler.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// NewScheduler creates a scheduler and attaches it to the manager so new
// repeatables are scheduled as they are registered
func NewScheduler(manager *Manager, logger arbor.ILogger) *Scheduler {
	s := &Scheduler{
		manager: manager,
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
	manager.scheduler = s
	return s
}

// Start reloads repeatables from the store and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	names, err := s.manager.knownQueues(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, name := range names {
		repeatables, err := s.manager.store.ListRepeatables(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to load repeatables of %s: %w", name, err)
		}
		for _, repeatable := range repeatables {
			if err := s.schedule(repeatable); err != nil {
				s.logger.Warn().Err(err).Str("queue", name).Str("repeat_key", repeatable.Key).Msg("Skipping invalid repeatable")
				continue
			}
			loaded++
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.cron.Start()

	s.logger.Info().Int("repeatables", loaded).Msg("Scheduler started")
	return nil
}

// Stop stops the cron runner and waits for running triggers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		<-s.cron.Stop().Done()
		s.logger.Info().Msg("Scheduler stopped")
	}
}

// Entries returns the number of scheduled repeatables
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) schedule(repeatable *models.RepeatableJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryKey := repeatable.Queue + "/" + repeatable.Key
	if id, ok := s.entries[entryKey]; ok {
		s.cron.Remove(id)
	}

	r := *repeatable
	id, err := s.cron.AddFunc(r.Cron, func() { s.fire(&r) })
	if err != nil {
		return fmt.Errorf("invalid repeat cron %q: %w", r.Cron, err)
	}
	s.entries[entryKey] = id
	return nil
}

func (s *Scheduler) unschedule(queueName, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryKey := queueName + "/" + key
	if id, ok := s.entries[entryKey]; ok {
		s.cron.Remove(id)
		delete(s.entries, entryKey)
	}
}

func (s *Scheduler) unscheduleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, key)
	}
}

// fire enqueues one instance of a repeatable with a fresh correlation id
func (s *Scheduler) fire(repeatable *models.RepeatableJob) {
	envelope := repeatable.Envelope
	envelope.CorrelationID = common.NewCorrelationID()

	job, err := s.manager.addJob(context.Background(), repeatable.Queue, repeatable.Name, envelope, repeatable.Options, repeatable.Key)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("queue", repeatable.Queue).
			Str("repeat_key", repeatable.Key).
			Msg("Failed to enqueue repeatable instance")
		return
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Str("queue", repeatable.Queue).
		Str("repeat_key", repeatable.Key).
		Msg("Repeatable instance enqueued")
}
