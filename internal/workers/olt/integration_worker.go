package olt

import (
	"context"
	"errors"
	"net/http"

	"github.com/ternarybob/fibercore/internal/httpclient"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
)

// IntegrationWorker delivers ONU change messages to the downstream webhook
type IntegrationWorker struct {
	baseWorker
	client *http.Client
}

var _ interfaces.JobWorker = (*IntegrationWorker)(nil)

// NewIntegrationWorker creates the integration delivery worker
func NewIntegrationWorker(deps Deps) *IntegrationWorker {
	return &IntegrationWorker{
		baseWorker: newBaseWorker(deps, models.QueueIntegration),
		client:     httpclient.NewDefaultHTTPClient(deps.Config.WebhookTimeout),
	}
}

// Validate checks the message
func (w *IntegrationWorker) Validate(job *models.Job) error {
	_, err := decodePayload[models.IntegrationMessage](&w.baseWorker, job)
	return err
}

// Execute posts the message. A 4xx answer will not change on retry.
func (w *IntegrationWorker) Execute(ctx context.Context, job *models.Job) error {
	message, err := decodePayload[models.IntegrationMessage](&w.baseWorker, job)
	if err != nil {
		return queue.Permanent(err)
	}
	if w.Config.WebhookURL == "" {
		w.Logger.Warn().Str("job_id", job.ID).Msg("Integration webhook not configured, message dropped")
		return nil
	}

	err = httpclient.PostJSON(ctx, w.client, w.Config.WebhookURL, message)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return queue.Permanent(err)
		}
		return err
	}

	w.Logger.Info().
		Str("job_id", job.ID).
		Str("category", message.Category).
		Str("olt", message.SlugOlt).
		Msg("Integration message delivered")
	return nil
}
