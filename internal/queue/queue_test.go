package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/models"
	badgerstore "github.com/ternarybob/fibercore/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	tmpDir := t.TempDir()
	options := badgerhold.DefaultOptions
	options.Dir = tmpDir
	options.ValueDir = tmpDir
	options.Logger = nil

	db, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := arbor.NewLogger()
	store, err := badgerstore.NewQueueStore(db.Badger(), logger)
	require.NoError(t, err)

	return NewManager(store, logger)
}

func testConfig() Config {
	config := NewDefaultConfig()
	config.PollInterval = 5 * time.Millisecond
	config.StaleAfter = time.Minute
	return config
}

func envelope(id string) models.Envelope {
	return models.Envelope{CorrelationID: id}
}

func TestEnqueue_RequiresQueueAndCorrelationID(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	_, err := manager.Enqueue(ctx, "runCommand", "runCommand", envelope("c1"), PolicyMutating())
	assert.ErrorIs(t, err, ErrQueueNotFound)

	q, err := manager.CreateQueue("runCommand")
	require.NoError(t, err)
	same, err := manager.CreateQueue("runCommand")
	require.NoError(t, err)
	assert.Same(t, q, same)

	_, err = q.Add(ctx, "runCommand", models.Envelope{}, PolicyMutating())
	assert.Error(t, err)

	job, err := q.Add(ctx, "runCommand", envelope("c1"), WithDelay(PolicyMutating(), time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStateDelayed, job.State)

	_, err = manager.CreateQueue("bad:name")
	assert.Error(t, err)
}

func TestDispatcher_ConcurrencyOneSerializesJobs(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("runCommand")
	require.NoError(t, err)

	var active, maxActive, done int32
	dispatcher := NewDispatcher(manager, testConfig(), arbor.NewLogger())
	require.NoError(t, dispatcher.RegisterWorker("runCommand", func(ctx context.Context, job *models.Job) error {
		current := atomic.AddInt32(&active, 1)
		for {
			seen := atomic.LoadInt32(&maxActive)
			if current <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, current) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		atomic.AddInt32(&done, 1)
		return nil
	}, WorkerOptions{}))

	for i := 0; i < 6; i++ {
		name := "runCommand"
		if i%2 == 0 {
			name = ""
		}
		_, err := q.Add(ctx, name, envelope("c"), PolicyMutating())
		require.NoError(t, err)
	}

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&done) == 6
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestDispatcher_RetryExhaustionFollowsBackoff(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("sync")
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []time.Time

	dispatcher := NewDispatcher(manager, testConfig(), arbor.NewLogger())
	require.NoError(t, dispatcher.RegisterWorker("sync", func(ctx context.Context, job *models.Job) error {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return errors.New("device unreachable")
	}, WorkerOptions{}))

	opts := models.JobOptions{
		Attempts: 3,
		Backoff:  models.Backoff{Type: models.BackoffExponential, Delay: 40 * time.Millisecond},
	}
	job, err := q.Add(ctx, "sync", envelope("c"), opts)
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		stored, err := manager.Get(ctx, job.ID)
		return err == nil && stored.State == models.JobStateFailed
	}, 5*time.Second, 10*time.Millisecond)

	// no further attempts after the terminal state
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 40*time.Millisecond)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 80*time.Millisecond)

	stored, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.AttemptsMade)
	assert.Equal(t, "device unreachable", stored.FailedReason)
}

func TestDispatcher_PermanentErrorSkipsRetries(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("reinstallOnu")
	require.NoError(t, err)

	var calls int32
	dispatcher := NewDispatcher(manager, testConfig(), arbor.NewLogger())
	require.NoError(t, dispatcher.RegisterWorker("reinstallOnu", func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("Onu reinstall Failed"))
	}, WorkerOptions{}))

	job, err := q.Add(ctx, "reinstallOnu", envelope("c"), PolicyIdempotent())
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		failed, err := manager.Failed(ctx, "reinstallOnu", 0)
		return err == nil && len(failed) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	retried, err := manager.Retry(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateWaiting, retried.State)
}

func TestDispatcher_UnroutableJobFails(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("runCommand")
	require.NoError(t, err)

	var calls int32
	dispatcher := NewDispatcher(manager, testConfig(), arbor.NewLogger())
	require.NoError(t, dispatcher.RegisterWorker("runCommand", func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, WorkerOptions{}))
	assert.Error(t, dispatcher.RegisterWorker("runCommand", nil, WorkerOptions{}))

	_, err = q.Add(ctx, "somethingElse", envelope("c"), PolicyIdempotent())
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		failed, err := manager.Failed(ctx, "runCommand", 0)
		return err == nil && len(failed) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDispatcher_PanicFailsJob(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("runCommand")
	require.NoError(t, err)

	dispatcher := NewDispatcher(manager, testConfig(), arbor.NewLogger())
	require.NoError(t, dispatcher.RegisterWorker("runCommand", func(ctx context.Context, job *models.Job) error {
		panic("boom")
	}, WorkerOptions{}))

	_, err = q.Add(ctx, "runCommand", envelope("c"), PolicyMutating())
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	require.Eventually(t, func() bool {
		failed, err := manager.Failed(ctx, "runCommand", 0)
		return err == nil && len(failed) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatcher_HeartbeatOutlivesLease(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	q, err := manager.CreateQueue("reinstallOnu")
	require.NoError(t, err)

	config := testConfig()
	config.StaleAfter = 150 * time.Millisecond
	dispatcher := NewDispatcher(manager, config, arbor.NewLogger())

	started := make(chan string, 1)
	release := make(chan struct{})
	var runs int32
	require.NoError(t, dispatcher.RegisterWorker("reinstallOnu", func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&runs, 1)
		started <- job.ID
		<-release
		return nil
	}, WorkerOptions{}))

	job, err := q.Add(ctx, "reinstallOnu", envelope("c1"), models.JobOptions{Attempts: 2})
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start())
	defer dispatcher.Stop()

	select {
	case id := <-started:
		require.Equal(t, job.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	// run well past the original lease; a recovery pass must find nothing stalled
	time.Sleep(4 * config.StaleAfter)
	recovered, err := manager.Store().RecoverStalled(ctx, "reinstallOnu", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	running, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateActive, running.State)
	assert.True(t, running.LeaseUntil.After(time.Now()))

	close(release)

	require.Eventually(t, func() bool {
		done, err := manager.Get(ctx, job.ID)
		return err == nil && done.State == models.JobStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	done, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.AttemptsMade)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestWillRetry(t *testing.T) {
	job := &models.Job{Options: models.JobOptions{Attempts: 3}, AttemptsMade: 1}
	assert.True(t, WillRetry(job, errors.New("x")))
	assert.False(t, WillRetry(job, nil))
	assert.False(t, WillRetry(job, Permanent(errors.New("x"))))

	job.AttemptsMade = 3
	assert.False(t, WillRetry(job, errors.New("x")))
}

func TestBackoffNext(t *testing.T) {
	exponential := models.Backoff{Type: models.BackoffExponential, Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, exponential.Next(1))
	assert.Equal(t, 10*time.Second, exponential.Next(2))
	assert.Equal(t, 20*time.Second, exponential.Next(3))

	fixed := models.Backoff{Type: models.BackoffFixed, Delay: time.Second}
	assert.Equal(t, time.Second, fixed.Next(3))
}
