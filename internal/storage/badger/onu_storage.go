package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// OnuStorage implements the OnuStorage interface for Badger
type OnuStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOnuStorage creates a new OnuStorage instance
func NewOnuStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OnuStorage {
	return &OnuStorage{
		db:     db,
		logger: logger,
	}
}

// SaveOnu inserts or replaces an ONU record
func (s *OnuStorage) SaveOnu(ctx context.Context, onu *models.Onu) error {
	if onu.ID == "" {
		return fmt.Errorf("onu ID is required")
	}
	onu.UpdatedAt = time.Now()
	if err := s.db.Store().Upsert(onu.ID, *onu); err != nil {
		return fmt.Errorf("failed to save onu: %w", err)
	}
	return nil
}

// GetOnu returns an ONU record by id
func (s *OnuStorage) GetOnu(ctx context.Context, id string) (*models.Onu, error) {
	var onu models.Onu
	if err := s.db.Store().Get(id, &onu); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrOnuNotFound, id)
		}
		return nil, fmt.Errorf("failed to get onu: %w", err)
	}
	return &onu, nil
}

// ListOnus returns the ONU records of one OLT
func (s *OnuStorage) ListOnus(ctx context.Context, oltSlug string) ([]*models.Onu, error) {
	var onus []models.Onu
	if err := s.db.Store().Find(&onus, badgerhold.Where("OltSlug").Eq(oltSlug).SortBy("OnuIndex")); err != nil {
		return nil, fmt.Errorf("failed to list onus: %w", err)
	}

	result := make([]*models.Onu, 0, len(onus))
	for i := range onus {
		result = append(result, &onus[i])
	}
	return result, nil
}

// DeleteOnu removes an ONU record
func (s *OnuStorage) DeleteOnu(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, models.Onu{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete onu: %w", err)
	}
	return nil
}
