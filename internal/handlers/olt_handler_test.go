package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	oltsvc "github.com/ternarybob/fibercore/internal/services/olt"
	badgerstore "github.com/ternarybob/fibercore/internal/storage/badger"
	"github.com/ternarybob/fibercore/internal/transport"
)

type apiFixture struct {
	olts          *OltHandler
	queues        *QueueHandler
	notifications *NotificationHandler
	emitter       *captureEmitter
	storage       *badgerstore.Manager
	queueManager  *queue.Manager
	service       *notifications.Service
}

type captureEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *captureEmitter) Emit(ctx context.Context, event string, n *models.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func newAPIFixture(t *testing.T, queueNames ...string) *apiFixture {
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

	emitter := &captureEmitter{}
	notificationService := notifications.NewService(storage.NotificationStorage(), nil, logger)
	queues.SetNotifier(notificationService)
	inventory := oltsvc.NewInventory(storage.OltStorage(), common.TransportConfig{Port: 22}, logger)
	service := oltsvc.NewService(inventory, storage.OnuStorage(), notificationService, queues, logger)

	return &apiFixture{
		olts:          NewOltHandler(service, logger),
		queues:        NewQueueHandler(queues, transport.NewRegistry(), logger),
		notifications: NewNotificationHandler(notificationService, emitter, logger),
		emitter:       emitter,
		storage:       storage,
		queueManager:  queues,
		service:       notificationService,
	}
}

func do(handler http.HandlerFunc, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestOltRoutes_StatusMapping(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"sync slot", http.MethodPost, "/api/olts/olt-a/sync/slot", "", http.StatusAccepted},
		{"unknown sync kind", http.MethodPost, "/api/olts/olt-a/sync/bogus", "", http.StatusBadRequest},
		{"unknown olt", http.MethodPost, "/api/olts/missing/sync/vlan", "", http.StatusNotFound},
		{"reboot", http.MethodPost, "/api/olts/olt-a/onus/onu_1/reboot", "", http.StatusAccepted},
		{"reboot unknown onu", http.MethodPost, "/api/olts/olt-a/onus/onu_9/reboot", "", http.StatusNotFound},
		{"reinstall missing fields", http.MethodPost, "/api/olts/olt-a/onus/onu_1/reinstall", `{"sn":"ZTEG1"}`, http.StatusBadRequest},
		{"reinstall unknown field", http.MethodPost, "/api/olts/olt-a/onus/onu_1/reinstall", `{"serial":"x"}`, http.StatusBadRequest},
		{"commands", http.MethodPost, "/api/olts/olt-a/commands", `{"commands":["show card"]}`, http.StatusAccepted},
		{"commands empty", http.MethodPost, "/api/olts/olt-a/commands", `{"commands":[]}`, http.StatusBadRequest},
		{"delete bad number", http.MethodDelete, "/api/olts/olt-a/onus/x", `{"slot":1,"port":3}`, http.StatusBadRequest},
		{"delete", http.MethodDelete, "/api/olts/olt-a/onus/7", `{"slot":1,"port":3,"onu_id":"onu_1"}`, http.StatusAccepted},
		{"get olt", http.MethodGet, "/api/olts/olt-a", "", http.StatusOK},
		{"list onus", http.MethodGet, "/api/olts/olt-a/onus", "", http.StatusOK},
		{"unknown route", http.MethodPut, "/api/olts/olt-a", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(f.olts.OltRoutesHandler, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestOltRoutes_AcceptedReturnsNotificationAndJob(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/onus/onu_1/reboot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submission oltsvc.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submission))
	require.NotNil(t, submission.Job)
	require.NotNil(t, submission.Notification)
	assert.Equal(t, models.QueueRebootOnu, submission.Job.Queue)
	assert.Equal(t, models.NotificationRunning, submission.Notification.Status)
	assert.Equal(t, "olt-a-reboot-onu-1/1/3:7", submission.Notification.RefID)
}

func TestOltRoutes_EnqueueFailureIsUnavailable(t *testing.T) {
	// No queues created: every enqueue fails
	f := newAPIFixture(t)

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/sync/tcont", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	list, err := f.storage.NotificationStorage().List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.NotificationError, list[0].Status)
}

func TestQueueRoutes(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/sync/slot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(f.queues.QueueRoutesHandler, http.MethodGet, "/api/queues/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []models.QueueCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.NotEmpty(t, stats)

	rec = do(f.queues.QueueRoutesHandler, http.MethodGet, "/api/queues/syncOlt/failed", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(f.queues.RetryHandler, http.MethodPost, "/api/jobs/job_missing/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(f.queues.SessionsHandler, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRetry_OpensFreshNotification(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)
	ctx := context.Background()

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/onus/onu_1/reboot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submission oltsvc.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submission))
	original := submission.Notification

	// the attempt fails for good and its notification finishes as error
	store := f.queueManager.Store()
	job, err := store.Claim(ctx, models.QueueRebootOnu, time.Minute)
	require.NoError(t, err)
	require.Equal(t, original.ID, job.Envelope.NotificationID)
	require.NoError(t, store.Fail(ctx, job, "device unreachable", false))
	_, err = f.service.Finish(ctx, original.ID, notifications.Outcome{Status: models.NotificationError, Message: "device unreachable"})
	require.NoError(t, err)

	rec = do(f.queues.RetryHandler, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.Equal(t, models.JobStateWaiting, retried.State)
	assert.Equal(t, job.Envelope.CorrelationID, retried.Envelope.CorrelationID)
	require.NotEmpty(t, retried.Envelope.NotificationID)
	assert.NotEqual(t, original.ID, retried.Envelope.NotificationID)

	fresh, err := f.service.Get(ctx, retried.Envelope.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationRunning, fresh.Status)
	assert.Equal(t, original.RefID, fresh.RefID)
	assert.Equal(t, original.Category, fresh.Category)

	old, err := f.service.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationError, old.Status)

	// the re-run finishes the fresh record
	rerun, err := store.Claim(ctx, models.QueueRebootOnu, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, rerun.Envelope.NotificationID)

	// a job that is not failed is rejected without opening another notification
	rec = do(f.queues.RetryHandler, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	running, err := f.service.ListRunning(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestNotificationRoutes(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/sync/vlan", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submission oltsvc.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submission))

	rec = do(f.notifications.GetHandler, http.MethodGet, "/api/notifications/"+submission.Notification.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(f.notifications.GetHandler, http.MethodGet, "/api/notifications/notif_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(f.notifications.ListHandler, http.MethodGet, "/api/notifications?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(f.notifications.ListHandler, http.MethodGet, "/api/notifications?status=running", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, submission.Notification.ID, list[0].ID)

	rec = do(f.notifications.ListHandler, http.MethodGet, "/api/notifications?status=success", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmitHandler(t *testing.T) {
	f := newAPIFixture(t, models.OltQueues...)

	rec := do(f.olts.OltRoutesHandler, http.MethodPost, "/api/olts/olt-a/sync/slot", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submission oltsvc.Submission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submission))
	id := submission.Notification.ID

	finished := `{"event":"update-notification","data":{"notification":{"id":"` + id + `","status":"success","message":"Slot synchronized"}}}`

	tests := []struct {
		name string
		body string
		want int
	}{
		{"relayed outcome", finished, http.StatusAccepted},
		{"outcome already applied", finished, http.StatusConflict},
		{"unknown notification", `{"event":"update-notification","data":{"notification":{"id":"notif_missing","status":"error"}}}`, http.StatusNotFound},
		{"new notification broadcast", `{"event":"new-notification","data":{"notification":{"id":"notif_2","status":"running"}}}`, http.StatusAccepted},
		{"unknown event", `{"event":"job-started","data":{"notification":{"id":"notif_1"}}}`, http.StatusBadRequest},
		{"missing notification", `{"event":"new-notification","data":{}}`, http.StatusBadRequest},
		{"malformed", `{"event":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(f.notifications.EmitHandler, http.MethodPost, "/internal/emit", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	stored, err := f.storage.NotificationStorage().Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.NotificationSuccess, stored.Status)
	assert.Equal(t, "Slot synchronized", stored.Message)
	assert.False(t, stored.IsLoading)

	f.emitter.mu.Lock()
	defer f.emitter.mu.Unlock()
	assert.Equal(t, []string{"new-notification"}, f.emitter.events)
}
