package notifications

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
)

// Tracker ties a job's notification to the job's final outcome.
// For every job carrying a notification id exactly one terminal update is issued:
//   - success finishes it as success
//   - a failure the dispatcher will not retry (final attempt or permanent) finishes it as error
//   - a failure that will be retried leaves it running for the next attempt
type Tracker struct {
	service *Service
	logger  arbor.ILogger
}

// NewTracker creates a tracker
func NewTracker(service *Service, logger arbor.ILogger) *Tracker {
	return &Tracker{
		service: service,
		logger:  logger,
	}
}

// Track runs fn for job and finalizes the job's notification from the result.
// On success fn returns the success outcome; on failure it may return an outcome
// whose Title and Message describe the failure (Message defaults to the error text).
// The returned error is fn's error, so the dispatcher applies the retry policy.
// Failing to write the notification never fails the job.
func (t *Tracker) Track(ctx context.Context, job *models.Job, fn func(ctx context.Context) (Outcome, error)) error {
	var outcome Outcome
	err := common.CallSafe(t.logger, "job:"+job.Queue, func() error {
		var runErr error
		outcome, runErr = fn(ctx)
		return runErr
	})

	notificationID := job.Envelope.NotificationID
	if notificationID == "" {
		return err
	}

	switch {
	case err == nil:
		outcome.Status = models.NotificationSuccess

	case queue.WillRetry(job, err):
		t.logger.Debug().
			Str("job_id", job.ID).
			Str("notification_id", notificationID).
			Int("attempt", job.AttemptsMade).
			Msg("Attempt failed, notification left running for retry")
		return err

	default:
		outcome.Status = models.NotificationError
		if outcome.Message == "" {
			outcome.Message = err.Error()
		}
	}

	if _, finishErr := t.service.Finish(ctx, notificationID, outcome); finishErr != nil {
		logEvent := t.logger.Warn()
		if !errors.Is(finishErr, ErrTerminal) {
			logEvent = t.logger.Error()
		}
		logEvent.
			Err(finishErr).
			Str("job_id", job.ID).
			Str("notification_id", notificationID).
			Msg("Failed to finish notification")
	}

	return err
}
