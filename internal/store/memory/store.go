// Package memory is an in-process job store. Safe for concurrent access.
// Intended for tests and local development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/podushkina/taskflow/internal/task"
)

type Store struct {
	mu   sync.RWMutex
	jobs map[string]task.Job
	now  func() time.Time
}

func New() *Store {
	return &Store{
		jobs: make(map[string]task.Job),
		now:  time.Now,
	}
}

// WithClock replaces the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) CreateJob(_ context.Context) (task.Job, error) {
	now := s.now().UTC()
	job := task.Job{
		ID:        uuid.New().String(),
		Status:    task.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job, nil
}

func (s *Store) GetJob(_ context.Context, id string) (task.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return task.Job{}, task.ErrNotFound
	}
	return copyJob(job), nil
}

func (s *Store) MarkProcessing(_ context.Context, id string) (task.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return task.Job{}, task.ErrNotFound
	}
	if job.Status != task.StatusQueued {
		return copyJob(job), task.ErrTransitionDenied
	}

	job.Status = task.StatusProcessing
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return copyJob(job), nil
}

func (s *Store) MarkDone(_ context.Context, id string, result task.Result) (task.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return task.Job{}, task.ErrNotFound
	}
	if job.Status == task.StatusDone {
		return copyJob(job), task.ErrTransitionDenied
	}

	job.Status = task.StatusDone
	job.Result = &task.Result{Message: result.Message, FinishedAt: result.FinishedAt.UTC()}
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return copyJob(job), nil
}

func (s *Store) CountDone(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, job := range s.jobs {
		if job.Status == task.StatusDone {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListQueued(_ context.Context, olderThan time.Time, limit int) ([]task.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]task.Job, 0)
	for _, job := range s.jobs {
		if job.Status == task.StatusQueued && !job.CreatedAt.After(olderThan) {
			jobs = append(jobs, copyJob(job))
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

func copyJob(j task.Job) task.Job {
	if j.Result != nil {
		r := *j.Result
		j.Result = &r
	}
	return j
}
