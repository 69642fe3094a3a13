package badger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// OltStorage implements the OltStorage interface for Badger
type OltStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOltStorage creates a new OltStorage instance
func NewOltStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OltStorage {
	return &OltStorage{
		db:     db,
		logger: logger,
	}
}

// SaveOlt inserts or replaces an inventory entry
func (s *OltStorage) SaveOlt(ctx context.Context, olt *models.Olt) error {
	if olt.Slug == "" {
		return fmt.Errorf("olt slug is required")
	}
	if err := s.db.Store().Upsert(olt.Slug, *olt); err != nil {
		return fmt.Errorf("failed to save olt: %w", err)
	}
	return nil
}

// GetOlt returns an inventory entry by slug
func (s *OltStorage) GetOlt(ctx context.Context, slug string) (*models.Olt, error) {
	var olt models.Olt
	if err := s.db.Store().Get(slug, &olt); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrOltNotFound, slug)
		}
		return nil, fmt.Errorf("failed to get olt: %w", err)
	}
	return &olt, nil
}

// ListOlts returns every inventory entry ordered by slug
func (s *OltStorage) ListOlts(ctx context.Context) ([]*models.Olt, error) {
	var olts []models.Olt
	if err := s.db.Store().Find(&olts, (&badgerhold.Query{}).SortBy("Slug")); err != nil {
		return nil, fmt.Errorf("failed to list olts: %w", err)
	}

	result := make([]*models.Olt, 0, len(olts))
	for i := range olts {
		result = append(result, &olts[i])
	}
	return result, nil
}

// GetSnapshot returns the last synchronized state of an OLT
func (s *OltStorage) GetSnapshot(ctx context.Context, slug string) (*models.OltSnapshot, error) {
	var snapshot models.OltSnapshot
	if err := s.db.Store().Get(slug, &snapshot); err != nil {
		if err == badgerhold.ErrNotFound {
			return &models.OltSnapshot{Slug: slug}, nil
		}
		return nil, fmt.Errorf("failed to get olt snapshot: %w", err)
	}
	return &snapshot, nil
}

// UpdateSnapshot applies fn to the stored snapshot inside one transaction
func (s *OltStorage) UpdateSnapshot(ctx context.Context, slug string, fn func(snapshot *models.OltSnapshot)) (*models.OltSnapshot, error) {
	var snapshot models.OltSnapshot

	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		err := s.db.Store().TxGet(tx, slug, &snapshot)
		if err != nil && err != badgerhold.ErrNotFound {
			return err
		}
		snapshot.Slug = slug

		fn(&snapshot)

		return s.db.Store().TxUpsert(tx, slug, snapshot)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update olt snapshot: %w", err)
	}

	return &snapshot, nil
}
