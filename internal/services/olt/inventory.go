package olt

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

var _ interfaces.Inventory = (*Inventory)(nil)

// ErrOltNotFound is returned when a slug is not in the inventory
var ErrOltNotFound = interfaces.ErrOltNotFound

// Inventory resolves OLTs and their session credentials
type Inventory struct {
	storage  interfaces.OltStorage
	defaults common.TransportConfig
	logger   arbor.ILogger
}

// NewInventory creates an inventory over the OLT storage.
// Transport defaults fill in a missing port or cipher.
func NewInventory(storage interfaces.OltStorage, defaults common.TransportConfig, logger arbor.ILogger) *Inventory {
	return &Inventory{
		storage:  storage,
		defaults: defaults,
		logger:   logger,
	}
}

// GetOlt returns an OLT by slug
func (i *Inventory) GetOlt(ctx context.Context, slug string) (*models.Olt, error) {
	return i.storage.GetOlt(ctx, slug)
}

// ListOlts returns every OLT in the inventory
func (i *Inventory) ListOlts(ctx context.Context) ([]*models.Olt, error) {
	return i.storage.ListOlts(ctx)
}

// GetCredentials returns the session parameters for an OLT
func (i *Inventory) GetCredentials(ctx context.Context, slug string) (models.Credentials, error) {
	olt, err := i.GetOlt(ctx, slug)
	if err != nil {
		return models.Credentials{}, err
	}

	creds := olt.Credentials()
	if creds.Port == 0 {
		creds.Port = i.defaults.Port
	}
	if creds.Cipher == "" {
		creds.Cipher = i.defaults.DefaultCipher
	}
	return creds, nil
}

// Snapshot returns the last synchronized device state of an OLT
func (i *Inventory) Snapshot(ctx context.Context, slug string) (*models.OltSnapshot, error) {
	if _, err := i.GetOlt(ctx, slug); err != nil {
		return nil, err
	}
	return i.storage.GetSnapshot(ctx, slug)
}
