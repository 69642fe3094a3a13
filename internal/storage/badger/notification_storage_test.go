package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

func TestNotificationStorage_CreateUpdateList(t *testing.T) {
	db := newTestDB(t)
	storage := NewNotificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := &models.Notification{
		ID:        "ntf_1",
		RefID:     "olt-a-get-slot",
		Title:     "Get slot olt-a",
		Category:  "get-slot",
		Status:    models.NotificationRunning,
		IsLoading: true,
		CreatedAt: time.Now().Add(-time.Minute),
	}
	second := &models.Notification{
		ID:        "ntf_2",
		RefID:     "olt-a-sync-tcont",
		Category:  "sync-tcont",
		Status:    models.NotificationRunning,
		IsLoading: true,
	}
	require.NoError(t, storage.Create(ctx, first))
	require.NoError(t, storage.Create(ctx, second))

	updated, err := storage.Update(ctx, "ntf_1", func(n *models.Notification) error {
		n.Status = models.NotificationSuccess
		n.IsLoading = false
		n.Message = "Get slot successfully"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSuccess, updated.Status)
	assert.False(t, updated.IsLoading)

	stored, err := storage.Get(ctx, "ntf_1")
	require.NoError(t, err)
	assert.Equal(t, "Get slot successfully", stored.Message)

	all, err := storage.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ntf_2", all[0].ID, "newest first")

	running, err := storage.ListByStatus(ctx, models.NotificationRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "ntf_2", running[0].ID)
}

func TestNotificationStorage_UpdateAbortsOnError(t *testing.T) {
	db := newTestDB(t)
	storage := NewNotificationStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Create(ctx, &models.Notification{ID: "ntf_1", Status: models.NotificationRunning}))

	abort := errors.New("already terminal")
	_, err := storage.Update(ctx, "ntf_1", func(n *models.Notification) error {
		n.Status = models.NotificationError
		return abort
	})
	assert.ErrorIs(t, err, abort)

	stored, err := storage.Get(ctx, "ntf_1")
	require.NoError(t, err)
	assert.Equal(t, models.NotificationRunning, stored.Status)

	_, err = storage.Update(ctx, "missing", func(n *models.Notification) error { return nil })
	assert.ErrorIs(t, err, interfaces.ErrNotificationNotFound)
}

func TestOltStorage_SnapshotAndOnus(t *testing.T) {
	db := newTestDB(t)
	logger := arbor.NewLogger()
	olts := NewOltStorage(db, logger)
	onus := NewOnuStorage(db, logger)
	ctx := context.Background()

	_, err := olts.GetOlt(ctx, "nope")
	assert.ErrorIs(t, err, interfaces.ErrOltNotFound)

	snapshot, err := olts.UpdateSnapshot(ctx, "olt-a", func(s *models.OltSnapshot) {
		s.Slots = []models.CardSlot{{Slot: "1", CfgType: "GTGO", Status: "INSERVICE"}}
	})
	require.NoError(t, err)
	assert.Len(t, snapshot.GponSlots(), 1)

	stored, err := olts.GetSnapshot(ctx, "olt-a")
	require.NoError(t, err)
	assert.Len(t, stored.Slots, 1)

	require.NoError(t, onus.SaveOnu(ctx, &models.Onu{ID: "olt-a:1/1/1:2", OltSlug: "olt-a", OnuIndex: "1/1/1:2"}))
	require.NoError(t, onus.SaveOnu(ctx, &models.Onu{ID: "olt-a:1/1/1:1", OltSlug: "olt-a", OnuIndex: "1/1/1:1"}))
	require.NoError(t, onus.SaveOnu(ctx, &models.Onu{ID: "olt-b:1/1/1:1", OltSlug: "olt-b", OnuIndex: "1/1/1:1"}))

	list, err := onus.ListOnus(ctx, "olt-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "1/1/1:1", list[0].OnuIndex)

	require.NoError(t, onus.DeleteOnu(ctx, "olt-a:1/1/1:1"))
	_, err = onus.GetOnu(ctx, "olt-a:1/1/1:1")
	assert.ErrorIs(t, err, interfaces.ErrOnuNotFound)
}
