package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// claimScript pops the earliest due id from the eligible set into the active set.
// KEYS: eligible, active, jobs. ARGV: now (ms), lease (ms).
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local raw = redis.call('HGET', KEYS[3], id)
if not raw then
  return false
end
redis.call('ZADD', KEYS[2], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
return raw
`)

// swapScript writes a job record only if it still equals the expected value.
// KEYS: jobs, eligible, active, jobq.
// ARGV: id, expected record, new record (empty deletes), eligible score (empty
// leaves it), active score (empty removes the active entry). Returns 1 when written.
var swapScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
  return 0
end
if ARGV[3] == '' then
  redis.call('HDEL', KEYS[1], ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[1])
  redis.call('ZREM', KEYS[3], ARGV[1])
  redis.call('HDEL', KEYS[4], ARGV[1])
  return 1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
if ARGV[4] ~= '' then
  redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[1])
end
if ARGV[5] ~= '' then
  redis.call('ZADD', KEYS[3], tonumber(ARGV[5]), ARGV[1])
else
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return 1
`)

// maxSwapAttempts bounds the re-reads of a record that keeps changing underneath a write
const maxSwapAttempts = 16

// QueueStore implements interfaces.QueueStore on Redis.
//
// Key layout ({p} = prefix):
//
//	{p}:{queue}:jobs      hash  id -> JSON models.Job
//	{p}:{queue}:eligible  zset  id scored by next run (unix ms)
//	{p}:{queue}:active    zset  id scored by lease expiry (unix ms)
//	{p}:{queue}:repeat    hash  key -> JSON models.RepeatableJob
//	{p}:jobq              hash  id -> queue
//	{p}:queues            set   queue names
type QueueStore struct {
	client *goredis.Client
	prefix string
	logger arbor.ILogger
}

// NewQueueStore connects to Redis and verifies the connection
func NewQueueStore(ctx context.Context, config common.RedisConfig, logger arbor.ILogger) (*QueueStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "fibercore"
	}

	logger.Debug().Str("addr", config.Addr).Str("prefix", prefix).Msg("Redis queue store connected")

	return &QueueStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

var _ interfaces.QueueStore = (*QueueStore)(nil)

// Add stores a new job and places it in the eligible set
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

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.jobsKey(job.Queue), job.ID, data)
		pipe.ZAdd(ctx, s.eligibleKey(job.Queue), goredis.Z{Score: score(job.NextRunAt), Member: job.ID})
		pipe.HSet(ctx, s.jobQueueKey(), job.ID, job.Queue)
		pipe.SAdd(ctx, s.queuesKey(), job.Queue)
		return nil
	})
	return err
}

// Claim pulls the next eligible job from the queue
func (s *QueueStore) Claim(ctx context.Context, queue string, lease time.Duration) (*models.Job, error) {
	now := time.Now()
	raw, err := claimScript.Run(ctx, s.client,
		[]string{s.eligibleKey(queue), s.activeKey(queue), s.jobsKey(queue)},
		now.UnixMilli(), lease.Milliseconds(),
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, models.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode claimed job: %w", err)
	}

	startedAt := now
	job.State = models.JobStateActive
	job.AttemptsMade++
	job.StartedAt = &startedAt
	job.LeaseUntil = now.Add(lease)

	// The record moved on since the pop (cleaned or repaired), nothing to run
	swapped, err := s.swap(ctx, queue, job.ID, raw, &job, change{lease: &job.LeaseUntil})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, models.ErrNoJob
	}
	return &job, nil
}

// Extend pushes the lease of an active job out to now+lease
func (s *QueueStore) Extend(ctx context.Context, job *models.Job, lease time.Duration) error {
	_, err := s.mutate(ctx, job.Queue, job.ID, func(stored *models.Job) (change, error) {
		if !holdsLease(stored, job) {
			return change{}, interfaces.ErrLeaseLost
		}
		until := time.Now().Add(lease)
		stored.LeaseUntil = until
		return change{lease: &until}, nil
	})
	return err
}

// Complete finalizes an active job as completed
func (s *QueueStore) Complete(ctx context.Context, job *models.Job, remove bool) error {
	return s.finalize(ctx, job, func(stored *models.Job) change {
		if remove {
			return change{remove: true}
		}
		finishedAt := time.Now()
		stored.State = models.JobStateCompleted
		stored.FailedReason = ""
		stored.FinishedAt = &finishedAt
		stored.LeaseUntil = time.Time{}
		return change{}
	})
}

// Retry returns an active job to the eligible set
func (s *QueueStore) Retry(ctx context.Context, job *models.Job, runAt time.Time, reason string) error {
	return s.finalize(ctx, job, func(stored *models.Job) change {
		stored.State = models.JobStateDelayed
		if !runAt.After(time.Now()) {
			stored.State = models.JobStateWaiting
		}
		stored.NextRunAt = runAt
		stored.FailedReason = reason
		stored.LeaseUntil = time.Time{}
		return change{eligible: &runAt}
	})
}

// Fail finalizes an active job as failed
func (s *QueueStore) Fail(ctx context.Context, job *models.Job, reason string, remove bool) error {
	return s.finalize(ctx, job, func(stored *models.Job) change {
		if remove {
			return change{remove: true}
		}
		finishedAt := time.Now()
		stored.State = models.JobStateFailed
		stored.FailedReason = reason
		stored.FinishedAt = &finishedAt
		stored.LeaseUntil = time.Time{}
		return change{}
	})
}

// finalize applies fn to the stored job if the caller still holds the lease.
// The active entry is dropped in the same write.
func (s *QueueStore) finalize(ctx context.Context, job *models.Job, fn func(stored *models.Job) change) error {
	stored, err := s.mutate(ctx, job.Queue, job.ID, func(stored *models.Job) (change, error) {
		if !holdsLease(stored, job) {
			return change{}, interfaces.ErrLeaseLost
		}
		return fn(stored), nil
	})
	if err != nil {
		return err
	}
	*job = *stored
	return nil
}

// Requeue moves a failed job back to waiting with a fresh attempt budget
func (s *QueueStore) Requeue(ctx context.Context, id string, envelope models.Envelope) (*models.Job, error) {
	queue, err := s.lookupQueue(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, queue, id, func(stored *models.Job) (change, error) {
		if stored.State != models.JobStateFailed {
			return change{}, fmt.Errorf("%w: job %s is %s", interfaces.ErrNotRetryable, id, stored.State)
		}

		stored.State = models.JobStateWaiting
		stored.Envelope = envelope
		stored.AttemptsMade = 0
		stored.FailedReason = ""
		stored.FinishedAt = nil
		stored.StartedAt = nil
		stored.NextRunAt = time.Now()
		return change{eligible: &stored.NextRunAt}, nil
	})
}

// Get returns a job by id
func (s *QueueStore) Get(ctx context.Context, id string) (*models.Job, error) {
	queue, err := s.lookupQueue(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.readJob(ctx, queue, id)
}

// List returns jobs of a queue in the given state, oldest first
func (s *QueueStore) List(ctx context.Context, queue string, state models.JobState, limit int) ([]*models.Job, error) {
	all, err := s.allJobs(ctx, queue)
	if err != nil {
		return nil, err
	}

	var jobs []*models.Job
	for _, job := range all {
		if job.State == state {
			jobs = append(jobs, job)
		}
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

	all, err := s.allJobs(ctx, queue)
	if err != nil {
		return counts, err
	}
	for _, job := range all {
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
	}

	repeatables, err := s.client.HLen(ctx, s.repeatKey(queue)).Result()
	if err != nil {
		return counts, err
	}
	counts.Repeatable = int(repeatables)

	return counts, nil
}

// RecoverStalled returns jobs whose lease expired to the eligible set.
// A stalled attempt counts; a job with no attempts left is failed instead.
// An expired active entry whose record never reached active (a claim interrupted
// before its record write) is put back in the eligible set untouched.
func (s *QueueStore) RecoverStalled(ctx context.Context, queue string, now time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan active jobs: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		_, err := s.mutate(ctx, queue, id, func(stored *models.Job) (change, error) {
			switch stored.State {
			case models.JobStateWaiting, models.JobStateDelayed:
				return change{eligible: &stored.NextRunAt}, nil
			case models.JobStateActive:
				if !stored.LeaseUntil.Before(now) {
					return change{}, errSkip
				}
			default:
				return change{}, errSkip
			}

			stored.LeaseUntil = time.Time{}
			if stored.IsFinalAttempt() {
				finishedAt := now
				stored.State = models.JobStateFailed
				stored.FailedReason = "job stalled: lease expired"
				stored.FinishedAt = &finishedAt
				return change{}, nil
			}
			stored.State = models.JobStateWaiting
			stored.NextRunAt = now
			return change{eligible: &now}, nil
		})

		switch {
		case err == nil:
			recovered++
		case errors.Is(err, errSkip):
			if !s.isActive(ctx, queue, id) {
				s.client.ZRem(ctx, s.activeKey(queue), id)
			}
		case errors.Is(err, interfaces.ErrJobNotFound):
			s.client.ZRem(ctx, s.activeKey(queue), id)
		default:
			return recovered, err
		}
	}

	return recovered, nil
}

// SaveRepeatable stores a repeatable registration
func (s *QueueStore) SaveRepeatable(ctx context.Context, repeatable *models.RepeatableJob) error {
	data, err := json.Marshal(repeatable)
	if err != nil {
		return fmt.Errorf("failed to marshal repeatable: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.repeatKey(repeatable.Queue), repeatable.Key, data)
		pipe.SAdd(ctx, s.queuesKey(), repeatable.Queue)
		return nil
	})
	return err
}

// RemoveRepeatable deletes a repeatable registration
func (s *QueueStore) RemoveRepeatable(ctx context.Context, queue, key string) error {
	return s.client.HDel(ctx, s.repeatKey(queue), key).Err()
}

// ListRepeatables returns the repeatable registrations of a queue
func (s *QueueStore) ListRepeatables(ctx context.Context, queue string) ([]*models.RepeatableJob, error) {
	values, err := s.client.HVals(ctx, s.repeatKey(queue)).Result()
	if err != nil {
		return nil, err
	}

	repeatables := make([]*models.RepeatableJob, 0, len(values))
	for _, value := range values {
		var repeatable models.RepeatableJob
		if err := json.Unmarshal([]byte(value), &repeatable); err != nil {
			s.logger.Warn().Err(err).Str("queue", queue).Msg("Skipping undecodable repeatable")
			continue
		}
		repeatables = append(repeatables, &repeatable)
	}
	sort.Slice(repeatables, func(i, j int) bool {
		return repeatables[i].Key < repeatables[j].Key
	})
	return repeatables, nil
}

// Clean removes every job of the queue in the given states. A job whose record
// changed after it was listed is left alone.
func (s *QueueStore) Clean(ctx context.Context, queue string, states ...models.JobState) (int, error) {
	wanted := make(map[models.JobState]bool, len(states))
	for _, state := range states {
		wanted[state] = true
	}

	records, err := s.client.HGetAll(ctx, s.jobsKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clean queue %s: %w", queue, err)
	}

	removed := 0
	for id, raw := range records {
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil || !wanted[job.State] {
			continue
		}
		swapped, err := s.swap(ctx, queue, id, raw, &job, change{remove: true})
		if err != nil {
			return removed, fmt.Errorf("failed to clean queue %s: %w", queue, err)
		}
		if swapped {
			removed++
		}
	}
	return removed, nil
}

// Queues lists every queue name seen by the store
func (s *QueueStore) Queues(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.queuesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Flush empties the selected Redis database
func (s *QueueStore) Flush(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}

// Close closes the Redis client
func (s *QueueStore) Close() error {
	return s.client.Close()
}

// Helpers

// change describes the write swap applies to a job record
type change struct {
	remove   bool       // delete the record and every index entry
	eligible *time.Time // add to the eligible set at this time
	lease    *time.Time // keep in the active set until this time, otherwise leave it
}

// errSkip ends a mutate without writing
var errSkip = errors.New("no change")

// mutate reads a job record, lets fn change it and writes it back only if the
// record is unchanged since the read. Writes to other jobs never conflict; a
// concurrent write to the same record re-runs fn on the fresh copy.
func (s *QueueStore) mutate(ctx context.Context, queue, id string, fn func(stored *models.Job) (change, error)) (*models.Job, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		raw, err := s.client.HGet(ctx, s.jobsKey(queue), id).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
			}
			return nil, err
		}

		var stored models.Job
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
		}

		c, err := fn(&stored)
		if err != nil {
			return nil, err
		}

		swapped, err := s.swap(ctx, queue, id, raw, &stored, c)
		if err != nil {
			return nil, err
		}
		if swapped {
			return &stored, nil
		}
	}
	return nil, fmt.Errorf("job %s kept changing, gave up after %d attempts", id, maxSwapAttempts)
}

// swap runs swapScript, reporting false when the stored record no longer equals expected
func (s *QueueStore) swap(ctx context.Context, queue, id, expected string, job *models.Job, c change) (bool, error) {
	args := []interface{}{id, expected, "", "", ""}
	if !c.remove {
		data, err := json.Marshal(job)
		if err != nil {
			return false, fmt.Errorf("failed to marshal job: %w", err)
		}
		args[2] = string(data)
	}
	if c.eligible != nil {
		args[3] = c.eligible.UnixMilli()
	}
	if c.lease != nil {
		args[4] = c.lease.UnixMilli()
	}

	swapped, err := swapScript.Run(ctx, s.client,
		[]string{s.jobsKey(queue), s.eligibleKey(queue), s.activeKey(queue), s.jobQueueKey()},
		args...,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to write job %s: %w", id, err)
	}
	return swapped == 1, nil
}

// holdsLease reports whether stored is still the attempt the caller claimed
func holdsLease(stored, claimed *models.Job) bool {
	return stored.State == models.JobStateActive && stored.AttemptsMade == claimed.AttemptsMade
}

func (s *QueueStore) isActive(ctx context.Context, queue, id string) bool {
	job, err := s.readJob(ctx, queue, id)
	return err == nil && job.State == models.JobStateActive
}

func (s *QueueStore) readJob(ctx context.Context, queue, id string) (*models.Job, error) {
	raw, err := s.client.HGet(ctx, s.jobsKey(queue), id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return nil, err
	}

	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *QueueStore) allJobs(ctx context.Context, queue string) ([]*models.Job, error) {
	values, err := s.client.HVals(ctx, s.jobsKey(queue)).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.Job, 0, len(values))
	for _, value := range values {
		var job models.Job
		if err := json.Unmarshal([]byte(value), &job); err != nil {
			s.logger.Warn().Err(err).Str("queue", queue).Msg("Skipping undecodable job record")
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s *QueueStore) lookupQueue(ctx context.Context, id string) (string, error) {
	queue, err := s.client.HGet(ctx, s.jobQueueKey(), id).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", fmt.Errorf("%w: %s", interfaces.ErrJobNotFound, id)
		}
		return "", err
	}
	return queue, nil
}

func (s *QueueStore) jobsKey(queue string) string {
	return fmt.Sprintf("%s:%s:jobs", s.prefix, queue)
}

func (s *QueueStore) eligibleKey(queue string) string {
	return fmt.Sprintf("%s:%s:eligible", s.prefix, queue)
}

func (s *QueueStore) activeKey(queue string) string {
	return fmt.Sprintf("%s:%s:active", s.prefix, queue)
}

func (s *QueueStore) repeatKey(queue string) string {
	return fmt.Sprintf("%s:%s:repeat", s.prefix, queue)
}

func (s *QueueStore) jobQueueKey() string {
	return s.prefix + ":jobq"
}

func (s *QueueStore) queuesKey() string {
	return s.prefix + ":queues"
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
