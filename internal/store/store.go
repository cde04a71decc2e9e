// Package store keeps job records in process memory. Records are volatile:
// nothing survives a restart.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"diffusion-server/internal/domain"
)

type record struct {
	job  domain.Job
	done chan struct{}
}

// Store is a mutex-guarded map of job records. Readers always receive
// snapshots; the only writers are Create, the lifecycle transitions and the
// retention sweeper.
type Store struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]*record
	retention time.Duration
}

// New returns an empty store. Terminal records older than retention are
// dropped by Run; retention <= 0 keeps them for the process lifetime.
func New(retention time.Duration) *Store {
	return &Store{
		jobs:      make(map[uuid.UUID]*record),
		retention: retention,
	}
}

// Create registers a new job with the given normalized parameters and returns
// its snapshot. The job starts out queued.
func (s *Store) Create(params domain.GenerationParams) (domain.Job, error) {
	id := uuid.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return domain.Job{}, fmt.Errorf("store: job %s: %w", id, domain.ErrDuplicateJobID)
	}
	rec := &record{
		job: domain.Job{
			ID:          id,
			Status:      domain.JobStatusQueued,
			Params:      params,
			SubmittedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	s.jobs[id] = rec
	return snapshot(rec.job), nil
}

// Get returns a snapshot of the job or domain.ErrNotFound.
func (s *Store) Get(id uuid.UUID) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("store: job %s: %w", id, domain.ErrNotFound)
	}
	return snapshot(rec.job), nil
}

// MarkRunning claims a queued job for execution. It succeeds for exactly one
// caller per job; any state other than queued yields
// domain.ErrInvalidTransition.
func (s *Store) MarkRunning(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("store: job %s: %w", id, domain.ErrNotFound)
	}
	if rec.job.Status != domain.JobStatusQueued {
		return fmt.Errorf("store: job %s is %s: %w", id, rec.job.Status, domain.ErrInvalidTransition)
	}
	rec.job.Status = domain.JobStatusRunning
	rec.job.StartedAt = time.Now()
	return nil
}

// Complete records a successful result for a running job.
func (s *Store) Complete(id uuid.UUID, result domain.GenerationResult) error {
	return s.finish(id, func(j *domain.Job) {
		j.Status = domain.JobStatusCompleted
		j.Result = &result
	})
}

// Fail records a structured failure for a running job.
func (s *Store) Fail(id uuid.UUID, jobErr domain.JobError) error {
	return s.finish(id, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Error = &jobErr
	})
}

func (s *Store) finish(id uuid.UUID, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("store: job %s: %w", id, domain.ErrNotFound)
	}
	if rec.job.Status != domain.JobStatusRunning {
		return fmt.Errorf("store: job %s is %s: %w", id, rec.job.Status, domain.ErrInvalidTransition)
	}
	apply(&rec.job)
	rec.job.CompletedAt = time.Now()
	close(rec.done)
	return nil
}

// Discard removes a job that is still queued. Front-ends use it to roll back
// a record whose admission was rejected, before the id ever reaches a client.
func (s *Store) Discard(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("store: job %s: %w", id, domain.ErrNotFound)
	}
	if rec.job.Status != domain.JobStatusQueued {
		return fmt.Errorf("store: job %s is %s: %w", id, rec.job.Status, domain.ErrInvalidTransition)
	}
	delete(s.jobs, id)
	return nil
}

// Wait blocks until the job reaches a terminal status or ctx ends, and
// returns the terminal snapshot.
func (s *Store) Wait(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Job{}, fmt.Errorf("store: job %s: %w", id, domain.ErrNotFound)
	}

	select {
	case <-rec.done:
		// finish publishes the terminal job before closing done and
		// terminal records are never mutated again, so rec.job is safe to
		// read here even after the sweeper drops the map entry.
		return snapshot(rec.job), nil
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	}
}

// StatusCounts returns the number of records per status.
func (s *Store) StatusCounts() map[domain.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.JobStatus]int, 4)
	for _, rec := range s.jobs {
		counts[rec.job.Status]++
	}
	return counts
}

// Run sweeps expired terminal records until ctx ends. It returns immediately
// when retention is disabled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

// sweep drops terminal records whose completion is older than the retention
// window. Queued and running records are never touched.
func (s *Store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	for id, rec := range s.jobs {
		if !rec.job.Status.Terminal() {
			continue
		}
		if now.Sub(rec.job.CompletedAt) > s.retention {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// snapshot copies the record so callers never alias store-owned state. Image
// buffers are shared by the write-once contract on GenerationResult.
func snapshot(j domain.Job) domain.Job {
	out := j
	if j.Result != nil {
		res := *j.Result
		res.Images = append([][]byte(nil), j.Result.Images...)
		out.Result = &res
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}
