package olt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
	"github.com/ternarybob/fibercore/internal/queue"
	"github.com/ternarybob/fibercore/internal/services/notifications"
	oltsvc "github.com/ternarybob/fibercore/internal/services/olt"
	badgerstore "github.com/ternarybob/fibercore/internal/storage/badger"
)

// scriptedRunner answers command batches from a script keyed by the batch's last command
type scriptedRunner struct {
	mu       sync.Mutex
	requests []interfaces.CommandRequest
	respond  func(commands []string) (string, error)
}

func (r *scriptedRunner) Run(ctx context.Context, req interfaces.CommandRequest) (string, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	respond := r.respond
	r.mu.Unlock()

	if respond == nil {
		return "", errors.New("no script")
	}
	return respond(req.Commands)
}

func (r *scriptedRunner) Requests() []interfaces.CommandRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.CommandRequest(nil), r.requests...)
}

// ranCommand reports whether any batch contained cmd
func (r *scriptedRunner) ranCommand(cmd string) bool {
	for _, req := range r.Requests() {
		for _, c := range req.Commands {
			if strings.HasPrefix(c, cmd) {
				return true
			}
		}
	}
	return false
}

type harness struct {
	deps          Deps
	runner        *scriptedRunner
	storage       *badgerstore.Manager
	notifications *notifications.Service
	service       *oltsvc.Service
	queues        *queue.Manager
}

func newHarness(t *testing.T) *harness {
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
	for _, name := range models.OltQueues {
		_, err := queues.CreateQueue(name)
		require.NoError(t, err)
	}

	notificationService := notifications.NewService(storage.NotificationStorage(), nil, logger)
	inventory := oltsvc.NewInventory(storage.OltStorage(), common.TransportConfig{Port: 22}, logger)
	runner := &scriptedRunner{}

	ctx := context.Background()
	require.NoError(t, storage.OltStorage().SaveOlt(ctx, &models.Olt{
		Slug: "olt-a", Name: "OLT A", Host: "10.0.0.1", Username: "admin", Password: "pw",
		Brand: "olt-zte-c320", Type: "gpon",
	}))
	require.NoError(t, storage.OnuStorage().SaveOnu(ctx, &models.Onu{
		ID: "onu_1", OltSlug: "olt-a", OnuIndex: "1/1/3:7", OnuNumber: 7,
		SerialNumber: "ZTEGOLD00001", SubsID: "SUB-OLD", CustomerName: "old name",
	}))

	deps := Deps{
		Runner:    runner,
		Inventory: inventory,
		Olts:      storage.OltStorage(),
		Onus:      storage.OnuStorage(),
		Tracker:   notifications.NewTracker(notificationService, logger),
		Queues:    queues,
		Config: Config{
			ReinstallPollInterval: 10 * time.Millisecond,
			ReinstallPollTimeout:  80 * time.Millisecond,
			WebhookURL:            "http://integration.invalid/hook",
			WebhookTimeout:        time.Second,
		},
		Logger: logger,
	}

	return &harness{
		deps:          deps,
		runner:        runner,
		storage:       storage,
		notifications: notificationService,
		service:       oltsvc.NewService(inventory, storage.OnuStorage(), notificationService, queues, logger),
		queues:        queues,
	}
}

// claim takes the next job of a queue as the dispatcher would
func (h *harness) claim(t *testing.T, queueName string) *models.Job {
	t.Helper()
	job, err := h.queues.Store().Claim(context.Background(), queueName, time.Minute)
	require.NoError(t, err)
	return job
}

func (h *harness) notification(t *testing.T, id string) *models.Notification {
	t.Helper()
	n, err := h.notifications.Get(context.Background(), id)
	require.NoError(t, err)
	return n
}

const (
	deleteAccepted = "ZXAN(config-if)#no onu 7\r\n.[Successful]\r\nZXAN(config-if)#"

	uncfgWithSerial = "ZXAN#show gpon onu uncfg\r\n" +
		"OnuIndex                 Sn                  State\r\n" +
		"---------------------------------------------------------------------\r\n" +
		"gpon-onu_1/2/1:1         ztegce729406        unknown\r\n" +
		"ZXAN#"

	uncfgOther = "ZXAN#show gpon onu uncfg\r\n" +
		"OnuIndex                 Sn                  State\r\n" +
		"---------------------------------------------------------------------\r\n" +
		"gpon-onu_1/2/1:1         HWTC00000000        unknown\r\n" +
		"ZXAN#"
)
