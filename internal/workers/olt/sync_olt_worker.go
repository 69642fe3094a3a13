package olt

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	"github.com/ternarybob/fibercore/internal/zte"
	"github.com/ternarybob/fibercore/internal/zte/parse"
)

// SyncOltWorker reads one device table (cards, tcont, traffic or vlan
// profiles) and replaces that part of the OLT snapshot
type SyncOltWorker struct {
	baseWorker
}

var _ interfaces.JobWorker = (*SyncOltWorker)(nil)

// NewSyncOltWorker creates the syncOlt worker
func NewSyncOltWorker(deps Deps) *SyncOltWorker {
	return &SyncOltWorker{baseWorker: newBaseWorker(deps, models.QueueSyncOlt)}
}

// Validate checks the payload
func (w *SyncOltWorker) Validate(job *models.Job) error {
	_, err := decodePayload[models.SyncOltPayload](&w.baseWorker, job)
	return err
}

// Execute runs the show command, parses it and stores the result
func (w *SyncOltWorker) Execute(ctx context.Context, job *models.Job) error {
	payload, err := decodePayload[models.SyncOltPayload](&w.baseWorker, job)
	if err != nil {
		return queue.Permanent(err)
	}

	return w.Tracker.Track(ctx, job, func(ctx context.Context) (notifications.Outcome, error) {
		failed := notifications.Outcome{Title: fmt.Sprintf("Failed to get %s data in %s", payload.Kind, payload.OltSlug)}

		count, err := w.sync(ctx, payload)
		if err != nil {
			return failed, err
		}

		w.Logger.Info().
			Str("job_id", job.ID).
			Str("olt", payload.OltSlug).
			Str("kind", string(payload.Kind)).
			Int("rows", count).
			Msg("Olt data synchronized")

		return notifications.Outcome{
			Title:   fmt.Sprintf("%s data in %s fetched successfully", payload.Kind, payload.OltSlug),
			Message: fmt.Sprintf("%d %s rows synchronized", count, payload.Kind),
		}, nil
	})
}

func (w *SyncOltWorker) sync(ctx context.Context, p models.SyncOltPayload) (int, error) {
	var commands []string
	switch p.Kind {
	case models.SyncSlot:
		commands = zte.ShowCardCommands()
	case models.SyncTcont:
		commands = zte.ShowTcontCommands()
	case models.SyncTraffic:
		commands = zte.ShowTrafficCommands()
	case models.SyncVlan:
		commands = zte.ShowVlanCommands()
	default:
		return 0, queue.Permanent(fmt.Errorf("unknown sync kind %q", p.Kind))
	}

	output, err := w.run(ctx, p.OltSlug, commands, false)
	if err != nil {
		return 0, err
	}

	// a firmware layout change will not fix itself on retry
	var apply func(s *models.OltSnapshot)
	var count int
	now := time.Now()
	switch p.Kind {
	case models.SyncSlot:
		cards, err := parse.Cards(output)
		if err != nil {
			return 0, queue.Permanent(err)
		}
		count = len(cards)
		apply = func(s *models.OltSnapshot) {
			s.Slots = cards
			s.SlotsSyncedAt = &now
		}
	case models.SyncTcont, models.SyncTraffic, models.SyncVlan:
		profiles, err := parseProfiles(p.Kind, output)
		if err != nil {
			return 0, queue.Permanent(err)
		}
		count = len(profiles)
		apply = func(s *models.OltSnapshot) {
			switch p.Kind {
			case models.SyncTcont:
				s.Tcont = profiles
			case models.SyncTraffic:
				s.Traffic = profiles
			default:
				s.Vlan = profiles
			}
			s.ProfileSyncedAt = &now
		}
	}

	if _, err := w.Olts.UpdateSnapshot(ctx, p.OltSlug, apply); err != nil {
		return 0, err
	}
	return count, nil
}

func parseProfiles(kind models.SyncKind, output string) ([]models.Profile, error) {
	switch kind {
	case models.SyncTcont:
		return parse.Tcont(output)
	case models.SyncTraffic:
		return parse.Traffic(output)
	default:
		return parse.Vlan(output)
	}
}
