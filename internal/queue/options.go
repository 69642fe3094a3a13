package queue

import (
	"time"

	"github.com/ternarybob/fibercore/internal/models"
)

// Retry policies, one per operation category.
//
// Mutating jobs change OLT configuration and are not safe to re-run blindly:
// a single attempt, failures kept for inspection and manual retry.
// Idempotent jobs only read device state and are retried with backoff.
// Delivery jobs push outcomes to downstream systems.

// PolicyMutating is used for ONU create, delete, reinstall and reboot
func PolicyMutating() models.JobOptions {
	return models.JobOptions{
		Attempts:         1,
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// PolicyIdempotent is used for read-only syncs and scans
func PolicyIdempotent() models.JobOptions {
	return models.JobOptions{
		Attempts: 3,
		Backoff: models.Backoff{
			Type:  models.BackoffExponential,
			Delay: 5000 * time.Millisecond,
		},
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// PolicyDelivery is used for integration webhook delivery
func PolicyDelivery() models.JobOptions {
	return models.JobOptions{
		Attempts: 5,
		Backoff: models.Backoff{
			Type:  models.BackoffExponential,
			Delay: 6000 * time.Millisecond,
		},
		RemoveOnComplete: true,
		RemoveOnFail:     false,
	}
}

// WithDelay returns a copy of opts whose first run is delayed by d
func WithDelay(opts models.JobOptions, d time.Duration) models.JobOptions {
	opts.Delay = d
	return opts
}

// WithRepeat returns a copy of opts registered as a cron repeatable
func WithRepeat(opts models.JobOptions, cronExpr string) models.JobOptions {
	opts.Repeat = &models.Repeat{Cron: cronExpr}
	return opts
}
