package interfaces

import (
	"context"

	"github.com/ternarybob/fibercore/internal/models"
)

// CommandRequest is one ordered command batch against one device
type CommandRequest struct {
	Commands    []string
	Credentials models.Credentials
	Debug       bool
}

// CommandRunner executes a command batch and returns the concatenated output.
// It returns either the full output or an error, never both.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (string, error)
}

// Inventory resolves OLTs and their credentials
type Inventory interface {
	GetOlt(ctx context.Context, slug string) (*models.Olt, error)
	ListOlts(ctx context.Context) ([]*models.Olt, error)
	GetCredentials(ctx context.Context, slug string) (models.Credentials, error)
}
