// Package engine runs transfer pipelines: it owns the job queue, the
// bounded-concurrency scheduler, the per-job stage runner with its
// retry/rotation policy, and the progress broker.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/courier/internal/credential"
	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/stage"
	"github.com/seantiz/courier/internal/store"
)

// ErrInvalidJob is returned by Submit for requests that fail validation.
var ErrInvalidJob = errors.New("invalid job request")

// janitorInterval is how often the retention janitor scans for expired jobs.
const janitorInterval = 10 * time.Minute

// recentCompletedLimit caps the terminal-job slice in the overview listing.
const recentCompletedLimit = 20

// Options configures engine behavior. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent   int
	FetchAttempts   int
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
	RetainCompleted time.Duration
	DataDir         string
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = 3
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 2 * time.Hour
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.RetainCompleted <= 0 {
		o.RetainCompleted = 24 * time.Hour
	}
	if o.DataDir == "" {
		o.DataDir = "data"
	}
	return o
}

// Overview is the queue snapshot returned by List.
type Overview struct {
	QueuedCount     int          `json:"queued_count"`
	Active          []*model.Job `json:"active"`
	RecentCompleted []*model.Job `json:"recent_completed"`
}

// SystemStatus is the operational snapshot returned by Status.
type SystemStatus struct {
	PoolSize          int    `json:"pool_size"`
	CurrentCredential string `json:"current_credential"`
	QueueDepth        int    `json:"queue_depth"`
	InFlight          int    `json:"in_flight"`
	MaxConcurrent     int    `json:"max_concurrent"`
}

// Engine is the facade over job submission, scheduling, and execution.
type Engine struct {
	store     store.Store
	pool      *credential.Pool
	fetcher   stage.Fetcher
	publisher stage.Publisher
	opts      Options
	logger    *slog.Logger

	broker *Broker
	sched  *scheduler

	cancelLoop context.CancelFunc
}

// New creates an engine. Call Start before submitting jobs and Close on
// shutdown.
func New(s store.Store, pool *credential.Pool, fetcher stage.Fetcher, publisher stage.Publisher, opts Options, logger *slog.Logger) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		store:     s,
		pool:      pool,
		fetcher:   fetcher,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
		broker:    NewBroker(),
	}
	e.sched = newScheduler(opts.MaxConcurrent, e.runJob)
	return e
}

// Start launches the dispatch loop and the retention janitor.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelLoop = cancel
	e.sched.start(ctx)
	go e.janitor(ctx)
	e.logger.Info("engine started",
		"max_concurrent", e.opts.MaxConcurrent,
		"fetch_attempts", e.opts.FetchAttempts,
		"retain_completed", e.opts.RetainCompleted,
	)
}

// Close stops accepting dispatches and waits for in-flight pipelines to
// finish. Queued jobs stay queued in the store.
func (e *Engine) Close() {
	// Cancel the dispatch loop's context before closing the scheduler so a
	// loop blocked on a slot cannot dispatch one more job during shutdown.
	if e.cancelLoop != nil {
		e.cancelLoop()
	}
	e.sched.close()
	e.logger.Info("engine stopped")
}

// Submit validates and persists a new job in the queued state, enqueues it
// for dispatch, and returns it. Submission never blocks on available slots.
func (e *Engine) Submit(ctx context.Context, kind, reference, folderPath, userID string, cfg model.Settings) (*model.Job, error) {
	if !model.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, kind)
	}
	switch kind {
	case model.KindFetch, model.KindFull:
		if reference == "" {
			return nil, fmt.Errorf("%w: %s jobs require a reference", ErrInvalidJob, kind)
		}
	case model.KindPublish:
		if folderPath == "" {
			return nil, fmt.Errorf("%w: publish jobs require a folder_path", ErrInvalidJob)
		}
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:         model.NewID(),
		Kind:       kind,
		Reference:  reference,
		FolderPath: folderPath,
		UserID:     userID,
		Settings:   cfg,
		State:      model.StateQueued,
		Progress:   "waiting for a slot",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	e.sched.enqueue(job.ID)
	jobsSubmitted.WithLabelValues(kind).Inc()
	e.logger.Info("job submitted", "job_id", job.ID, "kind", kind, "user_id", userID)
	return job, nil
}

// Get returns the job record by ID.
func (e *Engine) Get(ctx context.Context, id string) (*model.Job, error) {
	return e.store.GetJob(ctx, id)
}

// List returns a snapshot of the queue: queued count, active jobs, and the
// most recently finished jobs.
func (e *Engine) List(ctx context.Context) (*Overview, error) {
	queued, _, err := e.store.ListJobs(ctx, model.StateQueued, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	active, _, err := e.store.ListJobs(ctx, model.StateRunning, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	recent, err := e.store.ListFinished(ctx, recentCompletedLimit)
	if err != nil {
		return nil, fmt.Errorf("list finished: %w", err)
	}

	return &Overview{
		QueuedCount:     len(queued),
		Active:          active,
		RecentCompleted: recent,
	}, nil
}

// Cancel requests cancellation of a job. A queued job is finalized
// immediately and never runs; a running job stops at its next stage boundary.
// Returns false if the job is unknown or already terminal.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := e.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if model.Terminal(job.State) {
		return false, nil
	}

	if job.State == model.StateQueued && e.sched.removePending(id) {
		if err := e.store.UpdateJobState(ctx, id, model.StateCancelled); err != nil {
			return false, fmt.Errorf("cancel queued job: %w", err)
		}
		jobsFinished.WithLabelValues(model.StateCancelled).Inc()
		e.logger.Info("job cancelled while queued", "job_id", id)
		e.broker.Publish(id, "cancelled")
		e.broker.Close(id)
		return true, nil
	}

	// Running, or queued but already claimed by the dispatcher. The runner
	// observes the flag at its next stage boundary. markCancelled refuses
	// IDs with no live slot, so a job that finished while this request was
	// in flight is reported as not cancellable instead of leaving a stale
	// flag behind.
	if e.sched.markCancelled(id) {
		e.logger.Info("cancellation requested", "job_id", id)
		return true, nil
	}
	return false, nil
}

// Status returns an operational snapshot of the engine.
func (e *Engine) Status() SystemStatus {
	return SystemStatus{
		PoolSize:          e.pool.Size(),
		CurrentCredential: e.pool.CurrentName(),
		QueueDepth:        e.sched.queueDepth(),
		InFlight:          int(e.sched.inFlight.Load()),
		MaxConcurrent:     e.opts.MaxConcurrent,
	}
}

// Subscribe returns a progress channel for the job and an unsubscribe
// function. The channel closes when the job reaches a terminal state.
func (e *Engine) Subscribe(jobID string) (<-chan string, func()) {
	return e.broker.Subscribe(jobID)
}

// Wait blocks until the job reaches a terminal state or ctx is done, and
// returns the final job record.
func (e *Engine) Wait(ctx context.Context, id string) (*model.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.Terminal(job.State) {
		return job, nil
	}

	// Subscribing after the terminal check closes the race: a job finishing
	// in between yields an already-closed channel.
	ch, unsubscribe := e.broker.Subscribe(id)
	defer unsubscribe()

	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return e.store.GetJob(ctx, id)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// janitor periodically prunes terminal jobs older than the retention window.
func (e *Engine) janitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pruneExpired(ctx, time.Now().UTC().Add(-e.opts.RetainCompleted))
		}
	}
}

// pruneExpired removes expired terminal jobs from the store and drops their
// broker topics, so per-job state never outlives the retention window.
func (e *Engine) pruneExpired(ctx context.Context, cutoff time.Time) {
	ids, err := e.store.PruneFinished(ctx, cutoff)
	if err != nil {
		e.logger.Error("prune finished jobs", "error", err)
		return
	}
	for _, id := range ids {
		e.broker.Drop(id)
	}
	if len(ids) > 0 {
		e.logger.Info("pruned finished jobs", "count", len(ids), "cutoff", cutoff)
	}
}
