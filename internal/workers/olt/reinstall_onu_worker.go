package olt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	"github.com/ternarybob/fibercore/internal/zte"
	"github.com/ternarybob/fibercore/internal/zte/parse"
)

// ReinstallOnuWorker deletes an ONU, waits for the device to list its serial as
// unconfigured and provisions it again on the port derived from the ODC number
type ReinstallOnuWorker struct {
	baseWorker
}

var _ interfaces.JobWorker = (*ReinstallOnuWorker)(nil)

// NewReinstallOnuWorker creates the reinstallOnu worker
func NewReinstallOnuWorker(deps Deps) *ReinstallOnuWorker {
	return &ReinstallOnuWorker{baseWorker: newBaseWorker(deps, models.QueueReinstallOnu)}
}

// Validate checks the payload
func (w *ReinstallOnuWorker) Validate(job *models.Job) error {
	_, err := decodePayload[models.ReinstallOnuPayload](&w.baseWorker, job)
	return err
}

// Execute runs the reinstall and finalizes the notification
func (w *ReinstallOnuWorker) Execute(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[models.ReinstallOnuPayload](&w.baseWorker, job)
	if err != nil {
		return queue.Permanent(err)
	}

	return w.Tracker.Track(ctx, job, func(ctx context.Context) (notifications.Outcome, error) {
		return w.reinstall(ctx, job, payload)
	})
}

func (w *ReinstallOnuWorker) reinstall(ctx context.Context, job *models.Job, p models.ReinstallOnuPayload) (notifications.Outcome, error) {
	onu, err := w.Onus.GetOnu(ctx, p.OnuID)
	if err != nil {
		failed := notifications.Outcome{Title: fmt.Sprintf("Failed to reinstall onu %s on %s", p.OnuID, p.OltSlug)}
		if errors.Is(err, interfaces.ErrOnuNotFound) {
			failed.Message = "ONU not found"
			return failed, queue.Permanent(err)
		}
		return failed, err
	}

	failed := notifications.Outcome{Title: fmt.Sprintf("Failed to reinstall onu gpon-onu_%s on %s", onu.OnuIndex, p.OltSlug)}

	current, err := zte.ParseOnuIndex(onu.OnuIndex)
	if err != nil {
		return failed, queue.Permanent(err)
	}
	// resolved before the delete so a bad target never leaves the ONU removed
	slot, port, err := zte.SlotPort(p.OdcNumber)
	if err != nil {
		return failed, queue.Permanent(err)
	}

	output, err := w.run(ctx, p.OltSlug, zte.DeleteOnuCommands(current), p.Debug)
	if err != nil {
		return failed, err
	}
	if !parse.IsSuccessful(output) {
		failed.Message = fmt.Sprintf("Onu reinstall Failed onu gpon-onu_%s on %s", onu.OnuIndex, p.OltSlug)
		return failed, queue.Permanent(errors.New(failed.Message))
	}

	found, err := w.awaitUnconfigured(ctx, job, p)
	if err != nil {
		return failed, err
	}
	if !found {
		failed.Message = "Onu reinstall Failed"
		return failed, queue.Permanent(fmt.Errorf("serial %s not listed as unconfigured on %s within %s",
			p.SerialNumber, p.OltSlug, w.Config.ReinstallPollTimeout))
	}

	target := zte.OnuAddress{Slot: slot, Port: port, Number: current.Number}

	if _, err := w.run(ctx, p.OltSlug, zte.ProvisionOnuCommands(zte.Provisioning{
		Address:         target,
		SerialNumber:    p.SerialNumber,
		SubsID:          p.SubsID,
		CustomerName:    p.CustomerName,
		Vlan:            p.Vlan,
		VlanProfile:     p.VlanProfile,
		Speed:           p.Speed,
		NetworkPassword: p.NetworkPassword,
	}), p.Debug); err != nil {
		return failed, err
	}

	onu.SerialNumber = p.SerialNumber
	onu.SubsID = p.SubsID
	onu.CustomerName = p.CustomerName
	onu.OnuNumber = target.Number
	onu.OnuIndex = target.String()
	onu.OnuName = zte.OnuName(p.SubsID, p.CustomerName)
	onu.Vlan = p.Vlan
	if err := w.Onus.SaveOnu(ctx, onu); err != nil {
		w.Logger.Error().Err(err).Str("job_id", job.ID).Str("onu_id", onu.ID).Msg("Failed to update onu record after reinstall")
	}

	w.Logger.Info().
		Str("job_id", job.ID).
		Str("olt", p.OltSlug).
		Str("onu_index", onu.OnuIndex).
		Msg("Onu reinstalled")

	w.enqueueIntegration(ctx, job, models.IntegrationMessage{
		Category: models.CategoryReinstallOnu,
		SlugOlt:  p.OltSlug,
		ID:       onu.ID,
	})

	return notifications.Outcome{
		Title:   fmt.Sprintf("Onu gpon-onu_%s reinstall successfully on %s", current, p.OltSlug),
		Message: "Onu reinstall successfully",
	}, nil
}

// awaitUnconfigured polls "show gpon onu uncfg" until the serial is listed or the
// poll timeout passes. A poll that fails is retried on the next tick; the last
// failure is returned only when no poll ever produced a table.
func (w *ReinstallOnuWorker) awaitUnconfigured(ctx context.Context, job *models.Job, p models.ReinstallOnuPayload) (bool, error) {
	if err := sleepContext(ctx, w.Config.ReinstallInitialDelay); err != nil {
		return false, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, w.Config.ReinstallPollTimeout)
	defer cancel()

	limit := rate.Inf
	if w.Config.ReinstallPollInterval > 0 {
		limit = rate.Every(w.Config.ReinstallPollInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var lastErr error
	sawTable := false
	for polls := 1; ; polls++ {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			break
		}

		output, err := w.run(pollCtx, p.OltSlug, zte.ShowUncfgCommands(), p.Debug)
		if err == nil {
			var rows []models.UnconfiguredOnu
			rows, err = parse.Uncfg(output)
			if err == nil {
				sawTable = true
				if parse.ContainsSerial(rows, p.SerialNumber) {
					w.Logger.Debug().
						Str("job_id", job.ID).
						Str("serial", p.SerialNumber).
						Int("polls", polls).
						Msg("Serial listed as unconfigured")
					return true, nil
				}
			}
		}
		if err != nil {
			if queue.IsPermanent(err) {
				return false, err
			}
			lastErr = err
			w.Logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Int("polls", polls).
				Msg("Uncfg poll failed")
		}
	}

	if !sawTable && lastErr != nil {
		return false, fmt.Errorf("uncfg poll: %w", lastErr)
	}
	return false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
