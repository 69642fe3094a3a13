package olt

import (
	"context"
	"fmt"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	"github.com/ternarybob/fibercore/internal/zte/parse"
)

// RunCommandWorker executes raw command batches (create, delete, operator commands)
type RunCommandWorker struct {
	baseWorker
}

var _ interfaces.JobWorker = (*RunCommandWorker)(nil)

// NewRunCommandWorker creates the runCommand worker
func NewRunCommandWorker(deps Deps) *RunCommandWorker {
	return &RunCommandWorker{baseWorker: newBaseWorker(deps, models.QueueRunCommand)}
}

// Validate checks the payload
func (w *RunCommandWorker) Validate(job *models.Job) error {
	_, err := decodePayload[models.RunCommandPayload](&w.baseWorker, job)
	return err
}

// Execute runs the batch and finalizes the notification
func (w *RunCommandWorker) Execute(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[models.RunCommandPayload](&w.baseWorker, job)
	if err != nil {
		return queue.Permanent(err)
	}

	return w.Tracker.Track(ctx, job, func(ctx context.Context) (notifications.Outcome, error) {
		label := payload.Action
		if payload.Target != "" {
			label = fmt.Sprintf("%s %s", payload.Action, payload.Target)
		}
		failed := notifications.Outcome{Title: fmt.Sprintf("Failed to %s on %s", label, payload.OltSlug)}

		output, err := w.run(ctx, payload.OltSlug, payload.Commands, payload.Debug)
		if err != nil {
			return failed, err
		}

		if payload.RequireSuccess && !parse.IsSuccessful(output) {
			failed.Message = fmt.Sprintf("Device rejected %s on %s", label, payload.OltSlug)
			return failed, queue.Permanent(fmt.Errorf("device did not confirm %s", label))
		}

		w.persist(ctx, job, payload)

		w.Logger.Info().
			Str("job_id", job.ID).
			Str("olt", payload.OltSlug).
			Int("commands", len(payload.Commands)).
			Msg("Command batch completed")

		return notifications.Outcome{
			Title:   fmt.Sprintf("%s on %s completed", label, payload.OltSlug),
			Message: fmt.Sprintf("%d commands executed", len(payload.Commands)),
		}, nil
	})
}

// persist applies the record changes that follow an accepted batch. The device
// change already happened, so storage errors are logged rather than failing the job.
func (w *RunCommandWorker) persist(ctx context.Context, job *models.Job, payload models.RunCommandPayload) {
	if payload.SaveOnu != nil {
		if err := w.Onus.SaveOnu(ctx, payload.SaveOnu); err != nil {
			w.Logger.Error().Err(err).Str("job_id", job.ID).Str("onu_id", payload.SaveOnu.ID).Msg("Failed to save onu record")
		} else {
			w.enqueueIntegration(ctx, job, models.IntegrationMessage{
				Category: payload.Action,
				SlugOlt:  payload.OltSlug,
				ID:       payload.SaveOnu.ID,
			})
		}
	}

	if payload.RemoveOnuID != "" {
		if err := w.Onus.DeleteOnu(ctx, payload.RemoveOnuID); err != nil {
			w.Logger.Error().Err(err).Str("job_id", job.ID).Str("onu_id", payload.RemoveOnuID).Msg("Failed to delete onu record")
		} else {
			w.enqueueIntegration(ctx, job, models.IntegrationMessage{
				Category: payload.Action,
				SlugOlt:  payload.OltSlug,
				ID:       payload.RemoveOnuID,
			})
		}
	}
}
