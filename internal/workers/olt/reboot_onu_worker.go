package olt

import (
	"context"
	"fmt"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	"github.com/ternarybob/fibercore/internal/zte"
)

// RebootOnuWorker reboots one ONU. The device asks for confirmation,
// which the transport answers once.
type RebootOnuWorker struct {
	baseWorker
}

var _ interfaces.JobWorker = (*RebootOnuWorker)(nil)

// NewRebootOnuWorker creates the rebootOnu worker
func NewRebootOnuWorker(deps Deps) *RebootOnuWorker {
	return &RebootOnuWorker{baseWorker: newBaseWorker(deps, models.QueueRebootOnu)}
}

// Validate checks the payload and the ONU index
func (w *RebootOnuWorker) Validate(job *models.Job) error {
	payload, err := decodePayload[models.RebootOnuPayload](&w.baseWorker, job)
	if err != nil {
		return err
	}
	_, err = zte.ParseOnuIndex(payload.OnuIndex)
	return err
}

// Execute reboots the ONU and finalizes the notification
func (w *RebootOnuWorker) Execute(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[models.RebootOnuPayload](&w.baseWorker, job)
	if err != nil {
		return queue.Permanent(err)
	}
	addr, err := zte.ParseOnuIndex(payload.OnuIndex)
	if err != nil {
		return queue.Permanent(err)
	}

	return w.Tracker.Track(ctx, job, func(ctx context.Context) (notifications.Outcome, error) {
		if _, err := w.run(ctx, payload.OltSlug, zte.RebootOnuCommands(addr), false); err != nil {
			return notifications.Outcome{
				Title: fmt.Sprintf("Subscription %s failed to reboot", payload.OnuName),
			}, err
		}

		return notifications.Outcome{
			Title:   fmt.Sprintf("Success reboot onu %s", payload.OnuIndex),
			Message: fmt.Sprintf("Subscription %s has been successfully rebooted", payload.OnuName),
		}, nil
	})
}
