package badger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

func newTestQueueStore(t *testing.T) *QueueStore {
	t.Helper()
	store, err := NewQueueStore(newTestDB(t).Badger(), arbor.NewLogger())
	require.NoError(t, err)
	return store
}

func newTestJob(queue, id string, runAt time.Time, attempts int) *models.Job {
	return &models.Job{
		ID:        id,
		Queue:     queue,
		Name:      queue,
		Envelope:  models.Envelope{CorrelationID: "corr-" + id},
		Options:   models.JobOptions{Attempts: attempts},
		CreatedAt: time.Now(),
		NextRunAt: runAt,
	}
}

func TestQueueStore_ClaimOrder(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Add(ctx, newTestJob("runCommand", "b", now.Add(-time.Second), 1)))
	require.NoError(t, store.Add(ctx, newTestJob("runCommand", "a", now.Add(-2*time.Second), 1)))
	require.NoError(t, store.Add(ctx, newTestJob("runCommand", "later", now.Add(time.Hour), 1)))

	first, err := store.Claim(ctx, "runCommand", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, models.JobStateActive, first.State)
	assert.Equal(t, 1, first.AttemptsMade)

	second, err := store.Claim(ctx, "runCommand", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "b", second.ID)

	// the delayed job is not due yet
	_, err = store.Claim(ctx, "runCommand", time.Minute)
	assert.ErrorIs(t, err, models.ErrNoJob)

	counts, err := store.Counts(ctx, "runCommand")
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Active)
	assert.Equal(t, 1, counts.Delayed)
}

func TestQueueStore_ConcurrentClaimIsExclusive(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Add(ctx, newTestJob("q", string(rune('a'+i)), time.Now().Add(-time.Second), 1)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 200; attempt++ {
				job, err := store.Claim(ctx, "q", time.Minute)
				if err != nil {
					continue
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestQueueStore_RetryAndFail(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "j1", time.Now(), 2)))

	job, err := store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Retry(ctx, job, time.Now().Add(-time.Millisecond), "boom"))
	assert.Equal(t, models.JobStateWaiting, job.State)
	assert.Equal(t, "boom", job.FailedReason)

	job, err = store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.True(t, job.IsFinalAttempt())

	require.NoError(t, store.Fail(ctx, job, "boom again", false))

	failed, err := store.List(ctx, "q", models.JobStateFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom again", failed[0].FailedReason)
	assert.NotNil(t, failed[0].FinishedAt)

	requeued, err := store.Requeue(ctx, "j1", models.Envelope{CorrelationID: "corr-j1", NotificationID: "n-retry"})
	require.NoError(t, err)
	assert.Equal(t, models.JobStateWaiting, requeued.State)
	assert.Equal(t, "n-retry", requeued.Envelope.NotificationID)
	assert.Equal(t, 0, requeued.AttemptsMade)

	again, err := store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", again.ID)
}

func TestQueueStore_FinalizeRequiresLease(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "j1", time.Now(), 3)))
	job, err := store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)

	stale := *job
	require.NoError(t, store.Complete(ctx, job, false))

	err = store.Complete(ctx, &stale, false)
	assert.ErrorIs(t, err, interfaces.ErrLeaseLost)

	stored, err := store.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, stored.State)
}

func TestQueueStore_CompleteRemove(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "j1", time.Now(), 1)))
	job, err := store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, job, true))

	_, err = store.Get(ctx, "j1")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestQueueStore_RecoverStalled(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "retry-me", time.Now().Add(-time.Second), 2)))
	require.NoError(t, store.Add(ctx, newTestJob("q", "exhausted", time.Now(), 1)))

	_, err := store.Claim(ctx, "q", time.Millisecond)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "q", time.Millisecond)
	require.NoError(t, err)

	recovered, err := store.RecoverStalled(ctx, "q", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	retried, err := store.Get(ctx, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateWaiting, retried.State)

	exhausted, err := store.Get(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, exhausted.State)
}

func TestQueueStore_ExtendKeepsLease(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "j1", time.Now().Add(-time.Second), 1)))
	job, err := store.Claim(ctx, "q", time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, store.Extend(ctx, job, time.Minute))

	recovered, err := store.RecoverStalled(ctx, "q", time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)

	stale := *job
	stale.AttemptsMade = 0
	assert.ErrorIs(t, store.Extend(ctx, &stale, time.Minute), interfaces.ErrLeaseLost)

	require.NoError(t, store.Complete(ctx, job, false))
	assert.ErrorIs(t, store.Extend(ctx, job, time.Minute), interfaces.ErrLeaseLost)
}

func TestQueueStore_CleanSkipsJobsClaimedSinceListing(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("q", "claimed", time.Now().Add(-time.Second), 1)))
	require.NoError(t, store.Add(ctx, newTestJob("q", "idle", time.Now().Add(time.Hour), 1)))

	wanted := map[models.JobState]bool{models.JobStateWaiting: true, models.JobStateDelayed: true}
	listed := []string{"claimed", "idle", "gone"}

	job, err := store.Claim(ctx, "q", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "claimed", job.ID)

	removed, err := store.deleteListed("q", listed, wanted)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stored, err := store.Get(ctx, "claimed")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateActive, stored.State)
	require.NoError(t, store.Complete(ctx, job, false))

	_, err = store.Get(ctx, "idle")
	assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
}

func TestQueueStore_CleanRepeatablesAndFlush(t *testing.T) {
	store := newTestQueueStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, newTestJob("uploadR2", "w1", time.Now(), 1)))
	require.NoError(t, store.Add(ctx, newTestJob("uploadR2", "d1", time.Now().Add(time.Hour), 1)))
	require.NoError(t, store.SaveRepeatable(ctx, &models.RepeatableJob{
		Key:   "uncfg",
		Queue: "uploadR2",
		Name:  "uploadR2",
		Cron:  "*/5 * * * *",
	}))

	removed, err := store.Clean(ctx, "uploadR2", models.JobStateDelayed)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	counts, err := store.Counts(ctx, "uploadR2")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
	assert.Equal(t, 0, counts.Delayed)
	assert.Equal(t, 1, counts.Repeatable)

	queues, err := store.Queues(ctx)
	require.NoError(t, err)
	assert.Contains(t, queues, "uploadR2")

	require.NoError(t, store.Flush(ctx))

	counts, err = store.Counts(ctx, "uploadR2")
	require.NoError(t, err)
	assert.Equal(t, models.QueueCounts{Queue: "uploadR2"}, counts)
}
