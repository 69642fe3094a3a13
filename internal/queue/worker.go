package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fibercore/internal/common"
	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// Handler processes one job. A returned error fails the attempt.
type Handler func(ctx context.Context, job *models.Job) error

// WorkerOptions controls a registered worker
type WorkerOptions struct {
	// Concurrency is the maximum number of simultaneous handler invocations for the queue.
	// Zero means the configured override, or 1.
	Concurrency int
}

type registration struct {
	queue       string
	handler     Handler
	concurrency int
}

// Dispatcher runs registered handlers against their queues
type Dispatcher struct {
	manager *Manager
	config  Config
	logger  arbor.ILogger

	mu            sync.Mutex
	registrations map[string]*registration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       bool
}

// NewDispatcher creates a dispatcher for the manager's queues
func NewDispatcher(manager *Manager, config Config, logger arbor.ILogger) *Dispatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = NewDefaultConfig().PollInterval
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = NewDefaultConfig().StaleAfter
	}

	return &Dispatcher{
		manager:       manager,
		config:        config,
		logger:        logger,
		registrations: make(map[string]*registration),
	}
}

// RegisterWorker binds handler to a queue. The handler serves jobs submitted with
// the queue name as job name and unnamed jobs alike. Jobs with any other name are
// failed as unroutable.
func (d *Dispatcher) RegisterWorker(queueName string, handler Handler, opts WorkerOptions) error {
	if _, err := d.manager.Queue(queueName); err != nil {
		return err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = d.config.Concurrency[queueName]
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.registrations[queueName]; exists {
		return fmt.Errorf("worker already registered for queue %s", queueName)
	}

	reg := &registration{
		queue:       queueName,
		handler:     handler,
		concurrency: concurrency,
	}
	d.registrations[queueName] = reg

	d.logger.Debug().
		Str("queue", queueName).
		Int("concurrency", concurrency).
		Msg("Worker registered")

	if d.running {
		d.startRegistration(reg)
	}
	return nil
}

// RegisterJobWorker registers a JobWorker on the queue named by its worker type.
// Jobs failing Validate are failed permanently.
func (d *Dispatcher) RegisterJobWorker(worker interfaces.JobWorker, opts WorkerOptions) error {
	handler := func(ctx context.Context, job *models.Job) error {
		if err := worker.Validate(job); err != nil {
			return Permanent(fmt.Errorf("invalid job: %w", err))
		}
		return worker.Execute(ctx, job)
	}
	return d.RegisterWorker(worker.GetWorkerType(), handler, opts)
}

// Start starts the workers of every registered queue
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.running = true

	for _, reg := range d.registrations {
		d.startRegistration(reg)
	}

	d.logger.Info().
		Int("queues", len(d.registrations)).
		Str("poll_interval", d.config.PollInterval.String()).
		Msg("Dispatcher started")
	return nil
}

// Stop stops claiming new jobs and waits for running handlers to finish.
// Claimed jobs are never aborted mid-flight.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info().Msg("Dispatcher stopped")
}

// startRegistration must be called with d.mu held
func (d *Dispatcher) startRegistration(reg *registration) {
	for i := 0; i < reg.concurrency; i++ {
		d.wg.Add(1)
		go d.worker(reg, i)
	}

	d.wg.Add(1)
	go d.recoverLoop(reg.queue)
}

// worker is the main loop of one concurrency slot
func (d *Dispatcher) worker(reg *registration, workerID int) {
	defer d.wg.Done()

	// Spread slots across the poll interval
	staggerDelay := (d.config.PollInterval / time.Duration(reg.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-d.ctx.Done():
			return
		}
	}

	d.logger.Debug().
		Str("queue", reg.queue).
		Int("worker_id", workerID).
		Dur("stagger_delay", staggerDelay).
		Msg("Worker started")

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug().
				Str("queue", reg.queue).
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain due jobs back to back, then wait for the next tick
			for d.ctx.Err() == nil {
				err := d.processNext(reg, workerID)
				if err == nil {
					continue
				}
				if !errors.Is(err, ErrNoJob) {
					d.logger.Warn().
						Err(err).
						Str("queue", reg.queue).
						Int("worker_id", workerID).
						Msg("Error processing job")
				}
				break
			}
		}
	}
}

// processNext claims and runs a single job. Handler failures are settled on the
// job and do not surface as an error here.
func (d *Dispatcher) processNext(reg *registration, workerID int) error {
	if d.manager.IsPaused(reg.queue) {
		return ErrNoJob
	}

	store := d.manager.Store()
	job, err := store.Claim(d.ctx, reg.queue, d.config.StaleAfter)
	if err != nil {
		if errors.Is(err, ErrNoJob) {
			return err
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	// Once claimed a job runs to completion
	ctx := context.WithoutCancel(d.ctx)

	if job.Name != "" && job.Name != reg.queue {
		reason := fmt.Sprintf("no handler for job name %q on queue %s", job.Name, reg.queue)
		d.logger.Error().
			Str("job_id", job.ID).
			Str("queue", reg.queue).
			Str("job_name", job.Name).
			Msg("Unroutable job")
		return d.settle(ctx, job, Permanent(errors.New(reason)))
	}

	d.logger.Debug().
		Str("job_id", job.ID).
		Str("queue", reg.queue).
		Int("attempt", job.AttemptsMade).
		Int("worker_id", workerID).
		Msg("Processing job")

	startTime := time.Now()
	stopHeartbeat := d.keepLease(ctx, *job)
	handlerErr := common.CallSafe(d.logger, "job:"+reg.queue, func() error {
		return reg.handler(ctx, job)
	})
	stopHeartbeat()
	duration := time.Since(startTime)

	if handlerErr != nil {
		d.logger.Error().
			Err(handlerErr).
			Str("job_id", job.ID).
			Str("queue", reg.queue).
			Int("attempt", job.AttemptsMade).
			Int("max_attempts", job.Options.MaxAttempts()).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
	} else {
		d.logger.Info().
			Str("job_id", job.ID).
			Str("queue", reg.queue).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job completed successfully")
	}

	return d.settle(ctx, job, handlerErr)
}

// keepLease renews the lease of the claimed job every third of StaleAfter until
// the returned stop is called. stop waits for an in-flight renewal.
func (d *Dispatcher) keepLease(ctx context.Context, claimed models.Job) (stop func()) {
	interval := d.config.StaleAfter / 3
	if interval <= 0 {
		interval = time.Second
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := d.manager.Store().Extend(ctx, &claimed, d.config.StaleAfter)
				if errors.Is(err, interfaces.ErrLeaseLost) {
					d.logger.Warn().
						Str("job_id", claimed.ID).
						Str("queue", claimed.Queue).
						Int("attempt", claimed.AttemptsMade).
						Msg("Job lease lost while running")
					return
				}
				if err != nil {
					d.logger.Warn().
						Err(err).
						Str("job_id", claimed.ID).
						Str("queue", claimed.Queue).
						Msg("Failed to renew job lease")
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// settle records the outcome of an attempt: complete, retry with backoff or fail
func (d *Dispatcher) settle(ctx context.Context, job *models.Job, handlerErr error) error {
	store := d.manager.Store()

	var err error
	switch {
	case handlerErr == nil:
		err = store.Complete(ctx, job, job.Options.RemoveOnComplete)

	case WillRetry(job, handlerErr):
		delay := job.Options.Backoff.Next(job.AttemptsMade)
		err = store.Retry(ctx, job, time.Now().Add(delay), handlerErr.Error())
		if err == nil {
			d.logger.Debug().
				Str("job_id", job.ID).
				Str("queue", job.Queue).
				Int("attempt", job.AttemptsMade).
				Dur("backoff", delay).
				Msg("Job scheduled for retry")
		}

	default:
		err = store.Fail(ctx, job, handlerErr.Error(), job.Options.RemoveOnFail)
		if err == nil {
			d.logger.Warn().
				Str("job_id", job.ID).
				Str("queue", job.Queue).
				Int("attempts", job.AttemptsMade).
				Bool("permanent", IsPermanent(handlerErr)).
				Msg("Job failed terminally")
		}
	}

	if errors.Is(err, interfaces.ErrLeaseLost) {
		d.logger.Warn().
			Str("job_id", job.ID).
			Str("queue", job.Queue).
			Msg("Job lease lost before settle, outcome discarded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to settle job %s: %w", job.ID, err)
	}
	return nil
}

// recoverLoop periodically returns expired leases of the queue to waiting
func (d *Dispatcher) recoverLoop(queueName string) {
	defer d.wg.Done()

	interval := d.config.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			recovered, err := d.manager.Store().RecoverStalled(d.ctx, queueName, time.Now())
			if err != nil {
				d.logger.Warn().Err(err).Str("queue", queueName).Msg("Failed to recover stalled jobs")
				continue
			}
			if recovered > 0 {
				d.logger.Warn().Str("queue", queueName).Int("recovered", recovered).Msg("Recovered stalled jobs")
			}
		}
	}
}
