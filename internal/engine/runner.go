package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/seantiz/courier/internal/model"
	"github.com/seantiz/courier/internal/stage"
)

// step is one stage of a job's pipeline plan.
type step struct {
	name string
	run  func(ctx context.Context, job *model.Job, result *model.Result) *stage.Failure
}

// plan maps a job's kind and settings snapshot onto its stage sequence.
// Adding a job kind means adding an explicit case here.
func (e *Engine) plan(job *model.Job) []step {
	var steps []step
	switch job.Kind {
	case model.KindFetch:
		steps = append(steps, step{model.StageFetching, e.runFetch})
		if job.Settings.RunRelabel {
			steps = append(steps, step{model.StageRelabeling, e.runRelabel})
		}
	case model.KindPublish:
		steps = append(steps, step{model.StagePublishing, e.runPublish})
		if job.Settings.RunCleanup {
			steps = append(steps, step{model.StageCleaning, e.runCleanup})
		}
	case model.KindFull:
		steps = append(steps, step{model.StageFetching, e.runFetch})
		if job.Settings.RunRelabel {
			steps = append(steps, step{model.StageRelabeling, e.runRelabel})
		}
		if job.Settings.RunPublish {
			steps = append(steps, step{model.StagePublishing, e.runPublish})
		}
		if job.Settings.RunCleanup {
			steps = append(steps, step{model.StageCleaning, e.runCleanup})
		}
	}
	return steps
}

// willPublish reports whether the job's plan includes the publish stage.
// Publish batches tend to be larger, so their relabel sequence pads to three
// digits instead of two.
func willPublish(job *model.Job) bool {
	switch job.Kind {
	case model.KindPublish:
		return true
	case model.KindFull:
		return job.Settings.RunPublish
	}
	return false
}

// runJob executes one job's pipeline. It is the only writer of the job record
// while the job occupies a scheduler slot.
func (e *Engine) runJob(id string) {
	ctx := context.Background()

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		e.logger.Error("load job for execution", "job_id", id, "error", err)
		return
	}
	if job.State != model.StateQueued {
		// Cancelled (or otherwise finalized) between enqueue and dispatch.
		return
	}
	if e.sched.isCancelled(id) {
		e.finishCancelled(ctx, job)
		return
	}

	now := time.Now().UTC()
	job.State = model.StateRunning
	job.StartedAt = &now
	job.Progress = "pipeline started"
	if job.FolderPath == "" {
		job.FolderPath = filepath.Join(e.opts.DataDir, job.ID)
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		// Finalize anyway so waiters and stream subscribers are released
		// rather than hanging on a job that will never run.
		e.logger.Error("transition to running", "job_id", id, "error", err)
		e.finishFailed(ctx, job, stage.NewFailure(model.FailInternal, "persist running state: %v", err))
		return
	}
	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	result := &model.Result{}
	for _, st := range e.plan(job) {
		// Cooperative cancellation: honored at stage boundaries only, never
		// by interrupting an in-flight external call.
		if e.sched.isCancelled(job.ID) {
			e.finishCancelled(ctx, job)
			return
		}

		e.setStage(ctx, job, st.name)
		if fail := st.run(ctx, job, result); fail != nil {
			e.finishFailed(ctx, job, fail)
			return
		}
	}

	if e.sched.isCancelled(job.ID) {
		e.finishCancelled(ctx, job)
		return
	}

	job.Result = result
	e.finishSucceeded(ctx, job)
}

// runFetch attempts the fetch with the pool's current credential, applying
// the retry/rotation policy: quota failures rotate the pool and retry
// immediately, every other failure retries after a backoff, and both are
// bounded by the attempt ceiling. A fetch that writes zero files counts as an
// empty-result failure under the same policy.
func (e *Engine) runFetch(ctx context.Context, job *model.Job, result *model.Result) *stage.Failure {
	for attempt := 1; attempt <= e.opts.FetchAttempts; attempt++ {
		// Credential is captured once per attempt; a rotation by another job
		// mid-attempt does not affect this one.
		cred := e.pool.Current()

		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		res, err := e.fetcher.Fetch(attemptCtx, job.Reference, job.FolderPath, cred)
		cancel()

		var fail *stage.Failure
		switch {
		case err == nil && res.FilesWritten == 0:
			fail = stage.NewFailure(model.FailEmptyResult, "fetch completed but no files were written")
		case err == nil:
			result.FilesFetched = res.FilesWritten
			e.progress(ctx, job, fmt.Sprintf("fetched %d files", res.FilesWritten))
			return nil
		case !errors.As(err, &fail):
			fail = stage.NewFailure(model.FailInternal, "%v", err)
		}

		job.Attempt = attempt
		e.progress(ctx, job, fmt.Sprintf("fetch attempt %d/%d failed: %s", attempt, e.opts.FetchAttempts, fail.Message))
		e.logger.Warn("fetch attempt failed",
			"job_id", job.ID,
			"attempt", attempt,
			"kind", fail.Kind,
			"credential", cred.Name,
			"error", fail.Message,
		)

		if attempt == e.opts.FetchAttempts {
			if fail.Kind == model.FailQuotaExceeded {
				return stage.NewFailure(model.FailQuotaExhausted,
					"all %d attempts exhausted the storage quota", e.opts.FetchAttempts)
			}
			return fail
		}

		if fail.Kind == model.FailQuotaExceeded {
			e.pool.Rotate()
			credentialRotations.Inc()
			e.logger.Info("rotated credential after quota failure",
				"job_id", job.ID, "credential", e.pool.CurrentName())
			continue
		}

		select {
		case <-time.After(e.opts.RetryBackoff):
		case <-ctx.Done():
			return stage.NewFailure(model.FailInternal, "engine shutting down")
		}
	}
	// Unreachable: the loop always returns on its final attempt.
	return stage.NewFailure(model.FailInternal, "fetch retry loop exited unexpectedly")
}

func (e *Engine) runRelabel(ctx context.Context, job *model.Job, result *model.Result) *stage.Failure {
	pad := 2
	if willPublish(job) {
		pad = 3
	}

	res, err := stage.Relabel(job.FolderPath, job.Settings.Prefix, pad, e.logger)
	if err != nil {
		var fail *stage.Failure
		if errors.As(err, &fail) {
			return fail
		}
		return stage.NewFailure(model.FailInternal, "%v", err)
	}

	result.RenamedCount = res.Renamed
	result.TotalEligible = res.TotalEligible
	e.progress(ctx, job, fmt.Sprintf("renamed %d of %d media files", res.Renamed, res.TotalEligible))
	return nil
}

func (e *Engine) runPublish(ctx context.Context, job *model.Job, result *model.Result) *stage.Failure {
	res, err := e.publisher.Publish(ctx, job.FolderPath)
	if err != nil {
		// Publish failure is terminal and skips cleanup so the local files
		// stay available for manual recovery.
		var fail *stage.Failure
		if errors.As(err, &fail) {
			return fail
		}
		return stage.NewFailure(model.FailPublishError, "%v", err)
	}

	result.Links = res.Links
	e.progress(ctx, job, fmt.Sprintf("published %d links", len(res.Links)))
	return nil
}

func (e *Engine) runCleanup(ctx context.Context, job *model.Job, _ *model.Result) *stage.Failure {
	if err := stage.Cleanup(job.FolderPath); err != nil {
		// Disk residue is a non-fatal side effect; the job keeps its outcome.
		e.logger.Warn("cleanup failed", "job_id", job.ID, "path", job.FolderPath, "error", err)
		e.progress(ctx, job, "cleanup failed, local files left in place")
		return nil
	}
	e.progress(ctx, job, "working folder removed")
	return nil
}

// setStage records the stage transition and publishes it to subscribers.
func (e *Engine) setStage(ctx context.Context, job *model.Job, name string) {
	job.Stage = name
	job.Progress = name
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("persist stage transition", "job_id", job.ID, "stage", name, "error", err)
	}
	e.broker.Publish(job.ID, name)
}

// progress overwrites the job's status line and publishes it to subscribers.
func (e *Engine) progress(ctx context.Context, job *model.Job, line string) {
	job.Progress = line
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("persist progress", "job_id", job.ID, "error", err)
	}
	e.broker.Publish(job.ID, line)
}

func (e *Engine) finishSucceeded(ctx context.Context, job *model.Job) {
	now := time.Now().UTC()
	job.State = model.StateSucceeded
	job.Progress = "all stages finished"
	job.FinishedAt = &now
	e.finalize(ctx, job)
}

func (e *Engine) finishFailed(ctx context.Context, job *model.Job, fail *stage.Failure) {
	now := time.Now().UTC()
	job.State = model.StateFailed
	job.ErrKind = fail.Kind
	job.ErrMessage = fail.Message
	job.Progress = fmt.Sprintf("failed: %s", fail.Message)
	job.FinishedAt = &now
	e.finalize(ctx, job)
}

func (e *Engine) finishCancelled(ctx context.Context, job *model.Job) {
	now := time.Now().UTC()
	job.State = model.StateCancelled
	job.Progress = "cancelled"
	job.FinishedAt = &now
	// Result and error stay unset on a cancelled job.
	job.Result = nil
	e.finalize(ctx, job)
}

// finalize persists the terminal job, records metrics, and closes the
// broker topic so every waiter is notified exactly once.
func (e *Engine) finalize(ctx context.Context, job *model.Job) {
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("persist terminal job", "job_id", job.ID, "state", job.State, "error", err)
	}

	jobsFinished.WithLabelValues(job.State).Inc()
	if job.StartedAt != nil && job.FinishedAt != nil {
		jobDuration.Observe(job.FinishedAt.Sub(*job.StartedAt).Seconds())
	}

	e.logger.Info("job finished",
		"job_id", job.ID,
		"kind", job.Kind,
		"state", job.State,
		"attempt", job.Attempt,
	)

	e.broker.Publish(job.ID, job.Progress)
	e.broker.Close(job.ID)
}
