package queue

import (
	"context"
	"fmt"

	"github.com/ternarybob/fibercore/internal/models"
)

// ClearReport summarizes what Clear removed from one queue
type ClearReport struct {
	Queue       string `json:"queue"`
	Pending     int    `json:"pending"`
	Repeatables int    `json:"repeatables"`
	Finished    int    `json:"finished"`
}

// Clear empties the given queues, or every known queue when none are named.
// Each queue is paused, its waiting and delayed jobs dropped, its repeatables removed
// and its completed and failed records purged. Active jobs are left to finish.
func (m *Manager) Clear(ctx context.Context, names ...string) ([]ClearReport, error) {
	if len(names) == 0 {
		known, err := m.knownQueues(ctx)
		if err != nil {
			return nil, err
		}
		names = known
	}

	reports := make([]ClearReport, 0, len(names))
	for _, name := range names {
		report, err := m.clearQueue(ctx, name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (m *Manager) clearQueue(ctx context.Context, name string) (ClearReport, error) {
	report := ClearReport{Queue: name}

	m.Pause(name)
	defer m.Resume(name)

	pending, err := m.store.Clean(ctx, name, models.JobStateWaiting, models.JobStateDelayed)
	if err != nil {
		return report, fmt.Errorf("failed to empty queue %s: %w", name, err)
	}
	report.Pending = pending

	repeatables, err := m.store.ListRepeatables(ctx, name)
	if err != nil {
		return report, fmt.Errorf("failed to list repeatables of %s: %w", name, err)
	}
	for _, repeatable := range repeatables {
		if err := m.removeRepeatable(ctx, name, repeatable.Key); err != nil {
			return report, err
		}
		report.Repeatables++
	}

	finished, err := m.store.Clean(ctx, name, models.JobStateCompleted, models.JobStateFailed)
	if err != nil {
		return report, fmt.Errorf("failed to purge finished jobs of %s: %w", name, err)
	}
	report.Finished = finished

	m.logger.Info().
		Str("queue", name).
		Int("pending", report.Pending).
		Int("repeatables", report.Repeatables).
		Int("finished", report.Finished).
		Msg("Queue cleared")

	return report, nil
}

// Flush drops the entire backing store keyspace
func (m *Manager) Flush(ctx context.Context) error {
	if m.scheduler != nil {
		m.scheduler.unscheduleAll()
	}
	if err := m.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush queue store: %w", err)
	}
	m.logger.Warn().Msg("Queue store flushed")
	return nil
}
