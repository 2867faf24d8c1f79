package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/courier/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    state          TEXT NOT NULL,
    reference      TEXT,
    folder_path    TEXT,
    user_id        TEXT,
    prefix         TEXT,
    run_relabel    INTEGER NOT NULL DEFAULT 0,
    run_publish    INTEGER NOT NULL DEFAULT 0,
    run_cleanup    INTEGER NOT NULL DEFAULT 0,
    stage          TEXT,
    progress       TEXT,
    attempt        INTEGER NOT NULL DEFAULT 0,
    files_fetched  INTEGER,
    renamed_count  INTEGER,
    total_eligible INTEGER,
    links          TEXT,
    error_kind     TEXT,
    error_message  TEXT,
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL,
    started_at     DATETIME,
    finished_at    DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createJobsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	links, err := marshalLinks(j)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (
			id, kind, state, reference, folder_path, user_id,
			prefix, run_relabel, run_publish, run_cleanup,
			stage, progress, attempt,
			files_fetched, renamed_count, total_eligible, links,
			error_kind, error_message,
			created_at, updated_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.State, j.Reference, j.FolderPath, j.UserID,
		j.Settings.Prefix, j.Settings.RunRelabel, j.Settings.RunPublish, j.Settings.RunCleanup,
		j.Stage, j.Progress, j.Attempt,
		resultField(j, func(r *model.Result) int { return r.FilesFetched }),
		resultField(j, func(r *model.Result) int { return r.RenamedCount }),
		resultField(j, func(r *model.Result) int { return r.TotalEligible }),
		links,
		j.ErrKind, j.ErrMessage,
		j.CreatedAt, j.UpdatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, state, reference, folder_path, user_id,
	prefix, run_relabel, run_publish, run_cleanup,
	stage, progress, attempt,
	files_fetched, renamed_count, total_eligible, links,
	error_kind, error_message,
	created_at, updated_at, started_at, finished_at`

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs ordered by created_at ascending, optionally filtered
// by state, along with the total count matching the filter.
func (s *SQLiteStore) ListJobs(ctx context.Context, state string, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if state != "" {
		where = " WHERE state = ?"
		args = append(args, state)
	}
	if limit <= 0 {
		// Negative LIMIT means no limit in SQLite.
		limit = -1
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs`+where+` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ListFinished returns terminal jobs ordered by finished_at descending.
func (s *SQLiteStore) ListFinished(ctx context.Context, limit int) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		WHERE state IN (?, ?, ?)
		ORDER BY finished_at DESC, id DESC LIMIT ?`,
		model.StateSucceeded, model.StateFailed, model.StateCancelled, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list finished jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateJob rewrites the mutable fields of a job and refreshes updated_at.
func (s *SQLiteStore) UpdateJob(ctx context.Context, j *model.Job) error {
	links, err := marshalLinks(j)
	if err != nil {
		return err
	}

	j.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			state = ?, folder_path = ?, stage = ?, progress = ?, attempt = ?,
			files_fetched = ?, renamed_count = ?, total_eligible = ?, links = ?,
			error_kind = ?, error_message = ?,
			updated_at = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.State, j.FolderPath, j.Stage, j.Progress, j.Attempt,
		resultField(j, func(r *model.Result) int { return r.FilesFetched }),
		resultField(j, func(r *model.Result) int { return r.RenamedCount }),
		resultField(j, func(r *model.Result) int { return r.TotalEligible }),
		links,
		j.ErrKind, j.ErrMessage,
		j.UpdatedAt, j.StartedAt, j.FinishedAt,
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return checkAffected(result)
}

// UpdateJobState transitions a job's state, enforcing the transition table.
// Terminal transitions also set finished_at.
func (s *SQLiteStore) UpdateJobState(ctx context.Context, id, state string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT state FROM jobs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job state: %w", err)
	}

	if !model.ValidTransition(current, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}

	now := time.Now().UTC()
	if model.Terminal(state) {
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET state = ?, updated_at = ?, finished_at = ? WHERE id = ?",
			state, now, now, id,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?",
			state, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}

	return tx.Commit()
}

// CountByState returns the number of jobs in each state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM jobs GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// PruneFinished deletes terminal jobs that finished before the cutoff and
// returns their IDs.
func (s *SQLiteStore) PruneFinished(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM jobs WHERE state IN (?, ?, ?) AND finished_at < ?`,
		model.StateSucceeded, model.StateFailed, model.StateCancelled, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("select expired jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired jobs: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN (?, ?, ?) AND finished_at < ?`,
		model.StateSucceeded, model.StateFailed, model.StateCancelled, cutoff,
	); err != nil {
		return nil, fmt.Errorf("prune finished jobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit prune: %w", err)
	}
	return ids, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanJob.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	j := &model.Job{}
	var (
		filesFetched, renamedCount, totalEligible sql.NullInt64
		links                                     sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.Kind, &j.State, &j.Reference, &j.FolderPath, &j.UserID,
		&j.Settings.Prefix, &j.Settings.RunRelabel, &j.Settings.RunPublish, &j.Settings.RunCleanup,
		&j.Stage, &j.Progress, &j.Attempt,
		&filesFetched, &renamedCount, &totalEligible, &links,
		&j.ErrKind, &j.ErrMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	// A populated result is stored as non-null counts; reassemble it only for
	// succeeded jobs so failed and cancelled jobs keep result unset.
	if j.State == model.StateSucceeded && filesFetched.Valid {
		j.Result = &model.Result{
			FilesFetched:  int(filesFetched.Int64),
			RenamedCount:  int(renamedCount.Int64),
			TotalEligible: int(totalEligible.Int64),
		}
		if links.Valid && links.String != "" {
			if err := json.Unmarshal([]byte(links.String), &j.Result.Links); err != nil {
				return nil, fmt.Errorf("decode links: %w", err)
			}
		}
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func marshalLinks(j *model.Job) (sql.NullString, error) {
	if j.Result == nil || len(j.Result.Links) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(j.Result.Links)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode links: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func resultField(j *model.Job, get func(*model.Result) int) sql.NullInt64 {
	if j.Result == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(get(j.Result)), Valid: true}
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
