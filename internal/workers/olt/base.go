// -----------------------------------------------------------------------
// OLT workers - queue handlers executing device operations
// Every handler resolves credentials from the inventory, runs its batch
// through the command runner and finalizes the job's notification.
// -----------------------------------------------------------------------

package olt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
)

// Config holds worker timing
type Config struct {
	// ReinstallInitialDelay is waited after the delete before the first uncfg poll
	ReinstallInitialDelay time.Duration
	// ReinstallPollInterval paces the uncfg polls
	ReinstallPollInterval time.Duration
	// ReinstallPollTimeout bounds the wait for the serial to show up unconfigured
	ReinstallPollTimeout time.Duration
	// WebhookURL receives integration messages; empty disables delivery
	WebhookURL string
	// WebhookTimeout bounds one delivery
	WebhookTimeout time.Duration
	// Debug echoes raw device responses for every job
	Debug bool
}

// NewConfig builds worker configuration from the application config
func NewConfig(cfg *common.Config) Config {
	return Config{
		ReinstallInitialDelay: common.ParseDuration(cfg.Reinstall.InitialDelay, 3*time.Second),
		ReinstallPollInterval: common.ParseDuration(cfg.Reinstall.PollInterval, 5*time.Second),
		ReinstallPollTimeout:  common.ParseDuration(cfg.Reinstall.PollTimeout, 90*time.Second),
		WebhookURL:            cfg.Integration.WebhookURL,
		WebhookTimeout:        common.ParseDuration(cfg.Integration.Timeout, 10*time.Second),
		Debug:                 cfg.Transport.Debug,
	}
}

// Deps are the collaborators shared by the OLT workers
type Deps struct {
	Runner    interfaces.CommandRunner
	Inventory interfaces.Inventory
	Olts      interfaces.OltStorage
	Onus      interfaces.OnuStorage
	Tracker   *notifications.Tracker
	Queues    *queue.Manager
	Config    Config
	Logger    arbor.ILogger
}

// baseWorker carries the shared collaborators and payload validation
type baseWorker struct {
	Deps
	validate   *validator.Validate
	workerType string
}

func newBaseWorker(deps Deps, workerType string) baseWorker {
	return baseWorker{
		Deps:       deps,
		validate:   validator.New(),
		workerType: workerType,
	}
}

// GetWorkerType returns the queue served
func (w *baseWorker) GetWorkerType() string {
	return w.workerType
}

// decodePayload decodes and validates a job payload
func decodePayload[T any](w *baseWorker, job *models.Job) (T, error) {
	var payload T
	if err := job.Envelope.Decode(&payload); err != nil {
		return payload, err
	}
	if err := w.validate.Struct(payload); err != nil {
		return payload, fmt.Errorf("invalid %s payload: %w", w.workerType, err)
	}
	return payload, nil
}

// run executes a batch against an OLT. An unknown OLT is a permanent failure.
func (w *baseWorker) run(ctx context.Context, slug string, commands []string, debug bool) (string, error) {
	creds, err := w.Inventory.GetCredentials(ctx, slug)
	if err != nil {
		if errors.Is(err, interfaces.ErrOltNotFound) {
			return "", queue.Permanent(err)
		}
		return "", err
	}

	return w.Runner.Run(ctx, interfaces.CommandRequest{
		Commands:    commands,
		Credentials: creds,
		Debug:       debug || w.Config.Debug,
	})
}

// enqueueIntegration queues the downstream message; failures are logged only
func (w *baseWorker) enqueueIntegration(ctx context.Context, job *models.Job, message models.IntegrationMessage) {
	if w.Config.WebhookURL == "" {
		return
	}

	envelope, err := models.NewEnvelope(job.Envelope.CorrelationID, "", message)
	if err == nil {
		_, err = w.Queues.Enqueue(ctx, models.QueueIntegration, models.QueueIntegration, envelope, queue.PolicyDelivery())
	}
	if err != nil {
		w.Logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("category", message.Category).
			Msg("Failed to enqueue integration message")
	}
}

// Register binds every OLT worker to its queue
func Register(dispatcher *queue.Dispatcher, deps Deps) error {
	workers := []interfaces.JobWorker{
		NewRunCommandWorker(deps),
		NewReinstallOnuWorker(deps),
		NewRebootOnuWorker(deps),
		NewSyncOltWorker(deps),
		NewUncfgScanWorker(deps),
		NewIntegrationWorker(deps),
	}

	for _, worker := range workers {
		if err := dispatcher.RegisterJobWorker(worker, queue.WorkerOptions{}); err != nil {
			return fmt.Errorf("failed to register %s worker: %w", worker.GetWorkerType(), err)
		}
	}
	return nil
}
