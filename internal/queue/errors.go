package queue

import (
	"errors"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

var (
	// ErrNoJob is returned when no job is eligible to run
	ErrNoJob = models.ErrNoJob

	// ErrJobNotFound is returned when a job id is unknown
	ErrJobNotFound = interfaces.ErrJobNotFound

	// ErrNotRetryable is returned when retrying a job that is not failed
	ErrNotRetryable = interfaces.ErrNotRetryable

	// ErrQueueNotFound is returned when a queue was never created
	ErrQueueNotFound = errors.New("queue not found")
)

// PermanentError marks a failure that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the dispatcher fails the job without using remaining attempts.
// Device semantic failures (the command ran, the device refused) are permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// WillRetry reports whether the dispatcher will schedule another attempt after
// the running attempt of job failed with err
func WillRetry(job *models.Job, err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !job.IsFinalAttempt()
}
