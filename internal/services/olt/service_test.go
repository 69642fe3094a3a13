package olt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	badgerstore "github.com/ternarybob/fibercore/internal/storage/badger"
)

type fixture struct {
	service *Service
	storage *badgerstore.Manager
	queues  *queue.Manager
}

func newFixture(t *testing.T, queueNames ...string) *fixture {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := arbor.NewLogger()
	storage := badgerstore.NewManagerFromDB(badgerstore.NewBadgerDBFromStore(store, logger), logger)
	queueStore, err := storage.NewQueueStore()
	require.NoError(t, err)

	queues := queue.NewManager(queueStore, logger)
	for _, name := range queueNames {
		_, err := queues.CreateQueue(name)
		require.NoError(t, err)
	}

	ctx := context.Background()
	require.NoError(t, storage.OltStorage().SaveOlt(ctx, &models.Olt{
		Slug: "olt-a", Name: "OLT A", Host: "10.0.0.1", Username: "admin", Password: "pw",
	}))
	require.NoError(t, storage.OnuStorage().SaveOnu(ctx, &models.Onu{
		ID: "onu_1", OltSlug: "olt-a", OnuIndex: "1/1/3:7", OnuNumber: 7, OnuName: "SUB-1 - JANE",
	}))

	inventory := NewInventory(storage.OltStorage(), common.TransportConfig{Port: 22, DefaultCipher: "aes128-cbc"}, logger)
	notificationService := notifications.NewService(storage.NotificationStorage(), nil, logger)

	return &fixture{
		service: NewService(inventory, storage.OnuStorage(), notificationService, queues, logger),
		storage: storage,
		queues:  queues,
	}
}

func TestInventory_CredentialsDefaults(t *testing.T) {
	f := newFixture(t)

	creds, err := f.service.Inventory().GetCredentials(context.Background(), "olt-a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", creds.Host)
	assert.Equal(t, 22, creds.Port)
	assert.Equal(t, "aes128-cbc", creds.Cipher)

	_, err = f.service.Inventory().GetCredentials(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOltNotFound)
}

func TestSync_NotificationBeforeJob(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := context.Background()

	tests := []struct {
		kind     models.SyncKind
		refID    string
		category string
	}{
		{models.SyncSlot, "olt-a-get-slot", "get-slot"},
		{models.SyncTcont, "olt-a-sync-tcont", "sync-tcont"},
		{models.SyncTraffic, "olt-a-get-traffic", "get-traffic"},
		{models.SyncVlan, "olt-a-get-vlan", "get-vlan"},
	}

	for _, tt := range tests {
		submission, err := f.service.Sync(ctx, "olt-a", tt.kind)
		require.NoError(t, err)
		assert.Equal(t, tt.refID, submission.Notification.RefID)
		assert.Equal(t, tt.category, submission.Notification.Category)
		assert.Equal(t, submission.Notification.ID, submission.Job.Envelope.NotificationID)
		assert.NotEmpty(t, submission.Job.Envelope.CorrelationID)
		assert.Equal(t, 3, submission.Job.Options.Attempts)

		var payload models.SyncOltPayload
		require.NoError(t, submission.Job.Envelope.Decode(&payload))
		assert.Equal(t, tt.kind, payload.Kind)
	}

	_, err := f.service.Sync(ctx, "olt-a", "bogus")
	assert.Error(t, err)
}

func TestSubmit_CarriesRequestCorrelationID(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := common.WithCorrelationID(context.Background(), "req-7f3a")

	submission, err := f.service.RebootOnu(ctx, "olt-a", "onu_1")
	require.NoError(t, err)
	assert.Equal(t, "req-7f3a", submission.Job.Envelope.CorrelationID)

	stored, err := f.queues.Get(context.Background(), submission.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, "req-7f3a", stored.Envelope.CorrelationID)
}

func TestSubmit_EnqueueFailureFinishesNotification(t *testing.T) {
	// no queues created, so every enqueue fails
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RebootOnu(ctx, "olt-a", "onu_1")
	assert.ErrorIs(t, err, ErrEnqueue)

	list, err := f.storage.NotificationStorage().List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationError, list[0].Status)
	assert.False(t, list[0].IsLoading)
}

func TestSubmit_UnknownOltCreatesNothing(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := context.Background()

	_, err := f.service.SyncSlot(ctx, "missing")
	assert.ErrorIs(t, err, ErrOltNotFound)

	list, err := f.storage.NotificationStorage().List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMutatingOperationsUseSingleAttempt(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := context.Background()

	reboot, err := f.service.RebootOnu(ctx, "olt-a", "onu_1")
	require.NoError(t, err)
	assert.Equal(t, 1, reboot.Job.Options.MaxAttempts())
	assert.Equal(t, "olt-a-reboot-onu-1/1/3:7", reboot.Notification.RefID)

	create, err := f.service.CreateOnu(ctx, "olt-a", CreateOnuRequest{
		OdcNumber: 20, OnuNumber: 4, SerialNumber: "ZTEG00000001", SubsID: "SUB-2",
		CustomerName: "john", Vlan: 100, VlanProfile: "VLAN100", Speed: 10, NetworkPassword: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, create.Job.Options.MaxAttempts())
	assert.Equal(t, "olt-a-create-onu-1/2/4:4", create.Notification.RefID)

	var payload models.RunCommandPayload
	require.NoError(t, create.Job.Envelope.Decode(&payload))
	require.NotNil(t, payload.SaveOnu)
	assert.Equal(t, "1/2/4:4", payload.SaveOnu.OnuIndex)
	assert.Contains(t, payload.Commands, "tcont 1 name VLAN100 profile 30M")

	del, err := f.service.DeleteOnu(ctx, "olt-a", 7, DeleteOnuRequest{Slot: 1, Port: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, del.Job.Options.MaxAttempts())

	_, err = f.service.RunCommands(ctx, "olt-a", RunCommandsRequest{})
	assert.Error(t, err)
}

func TestReinstallOnu_RejectsForeignOnu(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := context.Background()

	require.NoError(t, f.storage.OltStorage().SaveOlt(ctx, &models.Olt{
		Slug: "olt-b", Name: "OLT B", Host: "10.0.0.2", Username: "admin", Password: "pw",
	}))

	_, err := f.service.ReinstallOnu(ctx, "olt-b", "onu_1", ReinstallRequest{
		SerialNumber: "ZTEG00000001", OdcNumber: 1, SubsID: "S", CustomerName: "C",
		Vlan: 100, VlanProfile: "V", Speed: 10, NetworkPassword: "pw",
	})
	assert.Error(t, err)
}

func TestScheduleUncfgScan_Idempotent(t *testing.T) {
	f := newFixture(t, models.OltQueues...)
	ctx := context.Background()

	_, err := f.service.ScheduleUncfgScan(ctx, "*/5 * * * *")
	require.NoError(t, err)
	_, err = f.service.ScheduleUncfgScan(ctx, "*/5 * * * *")
	require.NoError(t, err)

	repeatables, err := f.queues.Store().ListRepeatables(ctx, models.QueueUncfgScan)
	require.NoError(t, err)
	assert.Len(t, repeatables, 1)
}
