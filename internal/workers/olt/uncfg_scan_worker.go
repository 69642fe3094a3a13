package olt

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/zte"
	"github.com/ternarybob/fibercore/internal/zte/parse"
)

// UncfgScanWorker refreshes the unconfigured ONU list of every C320 GPON OLT.
// It runs from a cron repeatable and carries no notification.
type UncfgScanWorker struct {
	baseWorker
}

var _ interfaces.JobWorker = (*UncfgScanWorker)(nil)

// NewUncfgScanWorker creates the uncfg scan worker
func NewUncfgScanWorker(deps Deps) *UncfgScanWorker {
	return &UncfgScanWorker{baseWorker: newBaseWorker(deps, models.QueueUncfgScan)}
}

// Validate accepts any job; the scan takes no payload
func (w *UncfgScanWorker) Validate(job *models.Job) error {
	return nil
}

// Execute scans each OLT in turn. One OLT failing does not stop the others;
// the job fails when any OLT failed so the retry policy applies.
func (w *UncfgScanWorker) Execute(ctx context.Context, job *models.Job) error {
	olts, err := w.Inventory.ListOlts(ctx)
	if err != nil {
		return err
	}

	var failed []string
	scanned := 0
	for _, olt := range olts {
		if !olt.IsC320Gpon() {
			continue
		}
		scanned++

		count, err := w.scan(ctx, olt.Slug)
		if err != nil {
			failed = append(failed, olt.Slug)
			w.Logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("olt", olt.Slug).
				Msg("Uncfg scan failed")
			continue
		}

		w.Logger.Debug().
			Str("job_id", job.ID).
			Str("olt", olt.Slug).
			Int("unconfigured", count).
			Msg("Uncfg scan completed")
	}

	if len(failed) > 0 {
		return fmt.Errorf("uncfg scan failed on %d of %d olts: %v", len(failed), scanned, failed)
	}
	return nil
}

// scan replaces the OLT's uncfg snapshot with the device listing
func (w *UncfgScanWorker) scan(ctx context.Context, slug string) (int, error) {
	output, err := w.run(ctx, slug, zte.ShowUncfgCommands(), false)
	if err != nil {
		return 0, err
	}

	rows, err := parse.Uncfg(output)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	if _, err := w.Olts.UpdateSnapshot(ctx, slug, func(s *models.OltSnapshot) {
		s.Unconfigured = rows
		s.UncfgScannedAt = &now
	}); err != nil {
		return 0, err
	}
	return len(rows), nil
}
