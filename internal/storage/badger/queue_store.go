package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// cleanBatchSize bounds the number of deletes per transaction
const cleanBatchSize = 500

// maxConflictRetries bounds the re-runs of a single-record update that lost a write conflict
const maxConflictRetries = 8

// QueueStore implements interfaces.QueueStore on raw Badger keys.
//
// Key layout:
//
//	queue:{queue}:job:{id}              -> JSON models.Job
//	queue:{queue}:index:{nextRun}:{id}  -> eligible (waiting/delayed), ordered by next run time
//	queue:{queue}:active:{id}           -> claimed jobs
//	queue:{queue}:repeat:{key}          -> JSON models.RepeatableJob
//	queueidx:{id}                       -> queue name
//	queuename:{queue}                   -> marker
type QueueStore struct {
	db     *badger.DB
	logger arbor.ILogger
}

// NewQueueStore creates a Badger-backed queue store sharing the given database
func NewQueueStore(db *badger.DB, logger arbor.ILogger) (*QueueStore, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	return &QueueStore{
		db:     db,
		logger: logger,
	}, nil
}

var _ interfaces.QueueStore = (*QueueStore)(nil)

// Add stores a new job and places it in the eligible index
func (s *QueueStore) Add(ctx context.Context, job *models.Job) error {
	if job.ID == "" || job.Queue == "" {
		return fmt.Errorf("job id and queue are required")
	}

	if job.NextRunAt.After(time.Now()) {
		job.State = models.JobStateDelayed
	} else {
		job.State = models.JobStateWaiting
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(jobKey(job.Queue, job.ID), data); err != nil {
			return err
		}
		if err := txn.Set(indexKey(job.Queue, job.NextRunAt, job.ID), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(queueIdxKey(job.ID), []byte(job.Queue)); err != nil {
			return err
		}
		return txn.Set(queueNameKey(job.Queue), []byte{})
	})
}

// Claim pulls the next eligible job from the queue
func (s *QueueStore) Claim(ctx context.Context, queue string, lease time.Duration) (*models.Job, error) {
	var claimed models.Job

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var indexEntry []byte
		var jobID string

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := parseIndexKey(prefix, key)
			if err != nil {
				continue
			}

			// keys are sorted by run time, nothing past this point is due
			if ts.After(now) {
				break
			}

			item, err := txn.Get(jobKey(queue, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// index without record, drop it
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &claimed)
			}); err != nil {
				return err
			}

			indexEntry = key
			jobID = id
			break
		}

		if jobID == "" {
			return models.ErrNoJob
		}

		startedAt := now
		claimed.State = models.JobStateActive
		claimed.AttemptsMade++
		claimed.StartedAt = &startedAt
		claimed.LeaseUntil = now.Add(lease)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexEntry); err != nil {
			return err
		}
		if err := txn.Set(activeKey(queue, jobID), []byte{}); err != nil {
			return err
		}
		return txn.Set(jobKey(queue, jobID), data)
	})

	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			// another worker claimed concurrently, try again on the next poll
			return nil, models.ErrNoJob
		}
		return nil, err
	}

	return &claimed, nil
}

// Extend pushes the lease of an active job out to now+lease
func (s *QueueStore) Extend(ctx context.Context, job *models.Job, lease time.Duration) error {
	return s.update(func(txn *badger.Txn) error {
		stored, err := getJob(txn, job.Queue, job.ID)
		if err != nil {
			return err
		}
		if !holdsLease(stored, job) {
			return interfaces.ErrLeaseLost
		}
		stored.LeaseUntil = time.Now().Add(lease)
		return setJob(txn, stored)
	})
}

// Complete finalizes an active job as completed
func (s *QueueStore) Complete(ctx context.Context, job *models.Job, remove bool) error {
	return s.finalize(job, func(txn *badger.Txn, stored *models.Job) error {
		if remove {
			return s.deleteJob(txn, stored)
		}

		finishedAt := time.Now()
		stored.State = models.JobStateCompleted
		stored.FinishedAt = &finishedAt
		stored.FailedReason = ""
		return setJob(txn, stored)
	})
}

// Retry returns an active job to the eligible index
func (s *QueueStore) Retry(ctx context.Context, job *models.Job, runAt time.Time, reason string) error {
	return s.finalize(job, func(txn *badger.Txn, stored *models.Job) error {
		stored.State = models.JobStateDelayed
		if !runAt.After(time.Now()) {
			stored.State = models.JobStateWaiting
		}
		stored.NextRunAt = runAt
		stored.FailedReason = reason
		stored.LeaseUntil = time.Time{}

		if err := txn.Set(indexKey(stored.Queue, runAt, stored.ID), []byte{}); err != nil {
			return err
		}
		return setJob(txn, stored)
	})
}

// Fail finalizes an active job as failed
func (s *QueueStore) Fail(ctx context.Context, job *models.Job, reason string, remove bool) error {
	return s.finalize(job, func(txn *badger.Txn, stored *models.Job) error {
		if remove {
			return s.deleteJob(txn, stored)
		}

		finishedAt := time.Now()
		stored.State = models.JobStateFailed
		stored.FailedReason = reason
		stored.FinishedAt = &finishedAt
		stored.LeaseUntil = time.Time{}
		return setJob(txn, stored)
	})
}

// finalize loads the stored job, checks the caller still holds the lease and applies fn
func (s *QueueStore) finalize(job *models.Job, fn func(txn *badger.Txn, stored *models.Job) error) error {
	var settled *models.Job
	err := s.update(func(txn *badger.Txn) error {
		stored, err := getJob(txn, job.Queue, job.ID)
		if err != nil {
			return err
		}
		if !holdsLease(stored, job) {
			return interfaces.ErrLeaseLost
		}
		if err := txn.Delete(activeKey(stored.Queue, stored.ID)); err != nil {
			return err
		}
		if err := fn(txn, stored); err != nil {
			return err
		}
		settled = stored
		return nil
	})
	if err != nil {
		return err
	}
	*job = *settled
	return nil
}

// update runs fn in a read-write transaction, re-running it from a fresh read
// when the commit loses a write conflict
func (s *QueueStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// holdsLease reports whether stored is still the attempt the caller claimed
func holdsLease(stored, claimed *models.Job) bool {
	return stored.State == models.JobStateActive && stored.AttemptsMade == claimed.AttemptsMade
}

// Requeue moves a failed job back to waiting with a fresh attempt budget
func (s *QueueStore) Requeue(ctx context.Context, id string, envelope models.Envelope) (*models.Job, error) {
	var requeued *models.Job

	err := s.update(func(txn *badger.Txn) error {
		queue, err := lookupQueue(txn, id)
		if err != nil {
			return err
		}
		stored, err := getJob(txn, queue, id)
		if err != nil {
			return err
		}
		if stored.State != models.JobStateFailed {
			return fmt.Errorf("%w: job %s is %s", interfaces.ErrNotRetryable, id, stored.State)
		}

		stored.State = models.JobStateWaiting
		stored.Envelope = envelope
		stored.AttemptsMade = 0
		stored.FailedReason = ""
		stored.FinishedAt = nil
		stored.StartedAt = nil
		stored.NextRunAt = time.Now()

		if err := txn.Set(indexKey(queue, stored.NextRunAt, id), []byte{}); err != nil {
			return err
		}
		requeued = stored
		return setJob(txn, stored)
	})
	if err != nil {
		return nil, err
	}

	return requeued, nil
}

// Get returns a job by id
func (s *QueueStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		queue, err := lookupQueue(txn, id)
		if err != nil {
			return err
		}
		job, err = getJob(txn, queue, id)
		return err
	})
	return job, err
}

// List returns jobs of a queue in the given state, oldest first
func (s *QueueStore) List(ctx context.Context, queue string, state models.JobState, limit int) ([]*models.Job, error) {
	var jobs []*models.Job

	err := s.scanJobs(queue, func(job *models.Job) {
		if job.State == state {
			jobs = append(jobs, job)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Counts returns per-state job counts
func (s *QueueStore) Counts(ctx context.Context, queue string) (models.QueueCounts, error) {
	counts := models.QueueCounts{Queue: queue}

	err := s.scanJobs(queue, func(job *models.Job) {
		switch job.State {
		case models.JobStateWaiting:
			counts.Waiting++
		case models.JobStateDelayed:
			counts.Delayed++
		case models.JobStateActive:
			counts.Active++
		case models.JobStateCompleted:
			counts.Completed++
		case models.JobStateFailed:
			counts.Failed++
		}
	})
	if err != nil {
		return counts, err
	}

	repeatables, err := s.ListRepeatables(ctx, queue)
	if err != nil {
		return counts, err
	}
	counts.Repeatable = len(repeatables)

	return counts, nil
}

// RecoverStalled returns jobs whose lease expired to the eligible index.
// A stalled attempt counts; a job with no attempts left is failed instead.
func (s *QueueStore) RecoverStalled(ctx context.Context, queue string, now time.Time) (int, error) {
	recovered := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		stalled, err := collectStalled(txn, queue, now)
		if err != nil {
			return err
		}

		for _, job := range stalled {
			if err := txn.Delete(activeKey(queue, job.ID)); err != nil {
				return err
			}

			if job.IsFinalAttempt() {
				finishedAt := now
				job.State = models.JobStateFailed
				job.FailedReason = "job stalled: lease expired"
				job.FinishedAt = &finishedAt
			} else {
				job.State = models.JobStateWaiting
				job.NextRunAt = now
				if err := txn.Set(indexKey(queue, now, job.ID), []byte{}); err != nil {
					return err
				}
			}
			job.LeaseUntil = time.Time{}
			if err := setJob(txn, job); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})

	if errors.Is(err, badger.ErrConflict) {
		return 0, nil
	}
	return recovered, err
}

func collectStalled(txn *badger.Txn, queue string, now time.Time) ([]*models.Job, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := []byte(fmt.Sprintf("queue:%s:active:", queue))
	it := txn.NewIterator(opts)
	defer it.Close()

	var stalled []*models.Job
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id := string(it.Item().Key()[len(prefix):])
		job, err := getJob(txn, queue, id)
		if err != nil {
			if errors.Is(err, interfaces.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if job.LeaseUntil.Before(now) {
			stalled = append(stalled, job)
		}
	}
	return stalled, nil
}

// SaveRepeatable stores a repeatable registration
func (s *QueueStore) SaveRepeatable(ctx context.Context, repeatable *models.RepeatableJob) error {
	data, err := json.Marshal(repeatable)
	if err != nil {
		return fmt.Errorf("failed to marshal repeatable: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(repeatKey(repeatable.Queue, repeatable.Key), data); err != nil {
			return err
		}
		return txn.Set(queueNameKey(repeatable.Queue), []byte{})
	})
}

// RemoveRepeatable deletes a repeatable registration
func (s *QueueStore) RemoveRepeatable(ctx context.Context, queue, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(repeatKey(queue, key))
	})
}

// ListRepeatables returns the repeatable registrations of a queue
func (s *QueueStore) ListRepeatables(ctx context.Context, queue string) ([]*models.RepeatableJob, error) {
	var repeatables []*models.RepeatableJob

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("queue:%s:repeat:", queue))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var repeatable models.RepeatableJob
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &repeatable)
			}); err != nil {
				return err
			}
			repeatables = append(repeatables, &repeatable)
		}
		return nil
	})

	return repeatables, err
}

// Clean removes every job of the queue in the given states. Each job's state is
// checked again inside the deleting transaction.
func (s *QueueStore) Clean(ctx context.Context, queue string, states ...models.JobState) (int, error) {
	wanted := make(map[models.JobState]bool, len(states))
	for _, state := range states {
		wanted[state] = true
	}

	var victims []string
	if err := s.scanJobs(queue, func(job *models.Job) {
		if wanted[job.State] {
			victims = append(victims, job.ID)
		}
	}); err != nil {
		return 0, err
	}

	return s.deleteListed(queue, victims, wanted)
}

// deleteListed deletes the listed jobs still in a wanted state, in batches
func (s *QueueStore) deleteListed(queue string, ids []string, wanted map[models.JobState]bool) (int, error) {
	removed := 0
	for start := 0; start < len(ids); start += cleanBatchSize {
		end := start + cleanBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		deleted := 0
		err := s.update(func(txn *badger.Txn) error {
			deleted = 0
			for _, id := range ids[start:end] {
				job, err := getJob(txn, queue, id)
				if errors.Is(err, interfaces.ErrJobNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				if !wanted[job.State] {
					continue
				}
				if err := s.deleteJob(txn, job); err != nil {
					return err
				}
				deleted++
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to clean queue %s: %w", queue, err)
		}
		removed += deleted
	}

	return removed, nil
}

// Queues lists every queue name seen by the store
func (s *QueueStore) Queues(ctx context.Context) ([]string, error) {
	var names []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte("queuename:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})

	return names, err
}

// Flush drops the whole queue keyspace. Records stored by badgerhold are untouched.
func (s *QueueStore) Flush(ctx context.Context) error {
	return s.db.DropPrefix([]byte("queue:"), []byte("queueidx:"), []byte("queuename:"))
}

// Close is a no-op, the database is owned by the storage manager
func (s *QueueStore) Close() error {
	return nil
}

// deleteJob removes a job record and every index entry pointing at it
func (s *QueueStore) deleteJob(txn *badger.Txn, job *models.Job) error {
	switch job.State {
	case models.JobStateWaiting, models.JobStateDelayed:
		if err := txn.Delete(indexKey(job.Queue, job.NextRunAt, job.ID)); err != nil {
			return err
		}
	case models.JobStateActive:
		if err := txn.Delete(activeKey(job.Queue, job.ID)); err != nil {
			return err
		}
	}
	if err := txn.Delete(queueIdxKey(job.ID)); err != nil {
		return err
	}
	return txn.Delete(jobKey(job.Queue, job.ID))
}

func (s *QueueStore) scanJobs(queue string, fn func(job *models.Job)) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("queue:%s:job:", queue))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job models.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				s.logger.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping undecodable job record")
				continue
			}
			fn(&job)
		}
		return nil
	})
}

// Helpers

func getJob(txn *badger.Txn, queue, id string) (*models.Job, error) {
	item, err := txn.Get(jobKey(queue, id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return nil, err
	}

	var job models.Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, err
	}
	return &job, nil
}

func setJob(txn *badger.Txn, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return txn.Set(jobKey(job.Queue, job.ID), data)
}

func lookupQueue(txn *badger.Txn, id string) (string, error) {
	item, err := txn.Get(queueIdxKey(id))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return "", fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return "", err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func jobKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:job:%s", queue, id))
}

func activeKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:active:%s", queue, id))
}

func repeatKey(queue, key string) []byte {
	return []byte(fmt.Sprintf("queue:%s:repeat:%s", queue, key))
}

func queueIdxKey(id string) []byte {
	return []byte("queueidx:" + id)
}

func queueNameKey(queue string) []byte {
	return []byte("queuename:" + queue)
}

func indexPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queue))
}

func indexKey(queue string, runAt time.Time, id string) []byte {
	ts := runAt.UnixNano()
	if ts < 0 {
		ts = 0
	}
	// Zero pad to 20 digits so string order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queue, ts, id))
}

func parseIndexKey(prefix, key []byte) (time.Time, string, error) {
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 || suffix[20] != ':' {
		return time.Time{}, "", fmt.Errorf("invalid index suffix: %s", suffix)
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	id := suffix[21:]
	if strings.TrimSpace(id) == "" {
		return time.Time{}, "", fmt.Errorf("invalid index id")
	}
	return time.Unix(0, ts), id, nil
}
