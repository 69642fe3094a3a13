package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoJob is returned by a queue store when no job is eligible to run
var ErrNoJob = errors.New("no eligible job in queue")

// JobState is the lifecycle position of a job inside its queue
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether the state is completed or failed
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// BackoffType selects the retry delay curve
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the delay between attempts
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the given retry. attempt is the number of attempts
// already made (1 after the first failure).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 || attempt < 1 {
		return 0
	}
	if b.Type != BackoffExponential {
		return b.Delay
	}
	// cap the shift so a runaway attempt count cannot overflow
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	return b.Delay * time.Duration(1<<uint(shift))
}

// Repeat schedules a recurring job
type Repeat struct {
	Cron string `json:"cron"`
}

// JobOptions controls delivery of a single job
type JobOptions struct {
	Attempts         int           `json:"attempts"`
	Backoff          Backoff       `json:"backoff"`
	Delay            time.Duration `json:"delay"`
	Repeat           *Repeat       `json:"repeat,omitempty"`
	RemoveOnComplete bool          `json:"remove_on_complete"`
	RemoveOnFail     bool          `json:"remove_on_fail"`
}

// MaxAttempts returns the attempt limit, never less than one
func (o JobOptions) MaxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// Envelope is the typed wrapper carried by every job. CorrelationID is always set;
// NotificationID is set when the enqueuer created a running notification for the job.
type Envelope struct {
	CorrelationID  string          `json:"correlation_id" validate:"required"`
	NotificationID string          `json:"notification_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope
func NewEnvelope(correlationID, notificationID string, payload interface{}) (Envelope, error) {
	env := Envelope{
		CorrelationID:  correlationID,
		NotificationID: notificationID,
	}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the business payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("job payload is empty")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode job payload: %w", err)
	}
	return nil
}

// Job is a unit of deferred work stored in a queue
type Job struct {
	ID           string     `json:"id"`
	Queue        string     `json:"queue"`
	Name         string     `json:"name,omitempty"`
	Envelope     Envelope   `json:"envelope"`
	Options      JobOptions `json:"options"`
	State        JobState   `json:"state"`
	AttemptsMade int        `json:"attempts_made"`
	FailedReason string     `json:"failed_reason,omitempty"`
	RepeatKey    string     `json:"repeat_key,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	NextRunAt    time.Time  `json:"next_run_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	LeaseUntil   time.Time  `json:"lease_until,omitempty"`
}

// IsFinalAttempt reports whether a failure of the running attempt is terminal.
// Valid while the job is active (AttemptsMade already counts the running attempt).
func (j *Job) IsFinalAttempt() bool {
	return j.AttemptsMade >= j.Options.MaxAttempts()
}

// RepeatableJob is a persisted cron registration that spawns job instances
type RepeatableJob struct {
	Key       string     `json:"key"`
	Queue     string     `json:"queue"`
	Name      string     `json:"name"`
	Cron      string     `json:"cron"`
	Envelope  Envelope   `json:"envelope"`
	Options   JobOptions `json:"options"`
	CreatedAt time.Time  `json:"created_at"`
}

// QueueCounts holds per-state job counts for one queue
type QueueCounts struct {
	Queue      string `json:"queue"`
	Waiting    int    `json:"waiting"`
	Delayed    int    `json:"delayed"`
	Active     int    `json:"active"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Repeatable int    `json:"repeatable"`
}
