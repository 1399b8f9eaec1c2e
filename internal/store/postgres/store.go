// Package postgres stores jobs in a single PostgreSQL table using pgx/v5.
// Transitions are single conditional UPDATE statements, so concurrent
// callbacks for the same job serialize on the row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/podushkina/taskflow/internal/task"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'queued',
	message     TEXT,
	finished_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS task_jobs_status_created_idx ON task_jobs (status, created_at);
`

const jobColumns = `id, status, message, finished_at, created_at, updated_at`

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Store struct {
	pool Pool
	now  func() time.Time
}

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return NewWithPool(pool), nil
}

// NewWithPool wraps an already connected pool.
func NewWithPool(pool Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the jobs table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateJob(ctx context.Context) (task.Job, error) {
	now := s.now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO task_jobs (id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING `+jobColumns,
		uuid.New().String(), string(task.StatusQueued), now,
	)
	job, err := scanJob(row)
	if err != nil {
		return task.Job{}, fmt.Errorf("postgres: create job: %w", err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (task.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM task_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return task.Job{}, task.ErrNotFound
		}
		return task.Job{}, fmt.Errorf("postgres: get job: %w", err)
	}
	return job, nil
}

func (s *Store) MarkProcessing(ctx context.Context, id string) (task.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE task_jobs SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'queued'
		RETURNING `+jobColumns,
		id, s.now().UTC(),
	)
	return s.transitionResult(ctx, id, row, "mark processing")
}

func (s *Store) MarkDone(ctx context.Context, id string, result task.Result) (task.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE task_jobs SET status = 'done', message = $2, finished_at = $3, updated_at = $4
		WHERE id = $1 AND status IN ('queued', 'processing')
		RETURNING `+jobColumns,
		id, result.Message, result.FinishedAt.UTC(), s.now().UTC(),
	)
	return s.transitionResult(ctx, id, row, "mark done")
}

func (s *Store) CountDone(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM task_jobs WHERE status = 'done'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count done: %w", err)
	}
	return n, nil
}

func (s *Store) ListQueued(ctx context.Context, olderThan time.Time, limit int) ([]task.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM task_jobs
		WHERE status = 'queued' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2`,
		olderThan.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list queued: %w", err)
	}
	defer rows.Close()

	jobs := make([]task.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan queued: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// transitionResult distinguishes a missing job from one the conditional
// UPDATE skipped because it was already at or past the target.
func (s *Store) transitionResult(ctx context.Context, id string, row pgx.Row, op string) (task.Job, error) {
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return task.Job{}, fmt.Errorf("postgres: %s: %w", op, err)
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return task.Job{}, err
	}
	return current, task.ErrTransitionDenied
}

func scanJob(row pgx.Row) (task.Job, error) {
	var (
		job        task.Job
		status     string
		message    *string
		finishedAt *time.Time
	)
	if err := row.Scan(&job.ID, &status, &message, &finishedAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return task.Job{}, err
	}

	job.Status = task.Status(status)
	if !job.Status.Valid() {
		return task.Job{}, fmt.Errorf("job %s: invalid status %q", job.ID, status)
	}
	if message != nil && *message != "" {
		if finishedAt == nil {
			return task.Job{}, fmt.Errorf("job %s: result missing finished_at", job.ID)
		}
		job.Result = &task.Result{Message: *message, FinishedAt: finishedAt.UTC()}
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}
