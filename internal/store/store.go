package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/courier/internal/model"
)

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a job state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs returns jobs ordered by created_at ascending, optionally
	// filtered by state (empty state means all), along with the total count
	// matching the filter. A limit of zero or less means no limit.
	ListJobs(ctx context.Context, state string, limit, offset int) ([]*model.Job, int, error)
	// ListFinished returns terminal jobs ordered by finished_at descending.
	ListFinished(ctx context.Context, limit int) ([]*model.Job, error)
	// UpdateJob rewrites the mutable fields of a job and refreshes updated_at.
	UpdateJob(ctx context.Context, j *model.Job) error
	// UpdateJobState transitions a job's state, enforcing the transition
	// table. Terminal transitions also set finished_at.
	UpdateJobState(ctx context.Context, id, state string) error
	CountByState(ctx context.Context) (map[string]int, error)
	// PruneFinished deletes terminal jobs that finished before the cutoff,
	// returning the IDs of the deleted jobs so callers can release any
	// per-job state of their own.
	PruneFinished(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}
