// Package service coordinates the store, queue and pool behind both
// front-ends, so admission, rollback and status mapping behave identically
// regardless of protocol.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
	"diffusion-server/internal/pipeline"
	"diffusion-server/internal/queue"
	"diffusion-server/internal/store"
	"diffusion-server/internal/worker"
)

// WorkerStats abstracts the pool for health reporting.
type WorkerStats interface {
	Stats() worker.Stats
}

// Health is the operational snapshot served by both front-ends.
type Health struct {
	Status        string
	ModelLoaded   bool
	Model         string
	Backend       string
	Device        string
	Version       string
	QueueDepth    int
	QueueCapacity int
	Workers       worker.Stats
	Uptime        time.Duration
}

// Stats aggregates lifetime counters with current record counts.
type Stats struct {
	Submitted int64
	Rejected  int64
	Counts    map[domain.JobStatus]int
}

// Config wires a JobService.
type Config struct {
	Store        *store.Store
	Queue        *queue.Queue
	Pool         WorkerStats
	PipelineInfo pipeline.Info
	Device       string
	Limits       domain.Limits
	WaitTimeout  time.Duration
	Version      string
	Logger       zerolog.Logger
}

// JobService is the shared submission and query core.
type JobService struct {
	store   *store.Store
	queue   *queue.Queue
	pool    WorkerStats
	info    pipeline.Info
	device  string
	limits  domain.Limits
	waitCap time.Duration
	version string
	started time.Time
	logger  zerolog.Logger

	submitted atomic.Int64
	rejected  atomic.Int64
}

// New builds the service. The clock for uptime starts here.
func New(cfg Config) *JobService {
	return &JobService{
		store:   cfg.Store,
		queue:   cfg.Queue,
		pool:    cfg.Pool,
		info:    cfg.PipelineInfo,
		device:  cfg.Device,
		limits:  cfg.Limits,
		waitCap: cfg.WaitTimeout,
		version: cfg.Version,
		started: time.Now(),
		logger:  cfg.Logger,
	}
}

// Submit validates and normalizes req, records the job and admits it. When
// admission is rejected the fresh record is discarded again: the id never
// reaches the client and no unreachable records pile up under overload.
func (s *JobService) Submit(req domain.GenerationRequest) (domain.Job, error) {
	params, err := domain.NormalizeParams(req, s.limits)
	if err != nil {
		return domain.Job{}, err
	}
	job, err := s.store.Create(params)
	if err != nil {
		return domain.Job{}, err
	}
	if err := s.queue.TryEnqueue(job.ID); err != nil {
		if derr := s.store.Discard(job.ID); derr != nil {
			s.logger.Error().Err(derr).Str("job_id", job.ID.String()).Msg("service: admission rollback failed")
		}
		s.rejected.Add(1)
		return domain.Job{}, err
	}
	s.submitted.Add(1)
	s.logger.Info().
		Str("job_id", job.ID.String()).
		Int64("seed", job.Params.Seed).
		Int("queue_depth", s.queue.Depth()).
		Msg("service: job admitted")
	return job, nil
}

// SubmitAndWait submits req and blocks until the job is terminal, the
// configured wait cap lapses or ctx ends. On a wait error the submitted
// job is returned alongside it so callers can still hand out the id for
// polling; the job keeps running server-side either way.
func (s *JobService) SubmitAndWait(ctx context.Context, req domain.GenerationRequest) (domain.Job, error) {
	job, err := s.Submit(req)
	if err != nil {
		return domain.Job{}, err
	}
	waitCtx := ctx
	if s.waitCap > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.waitCap)
		defer cancel()
	}
	done, err := s.store.Wait(waitCtx, job.ID)
	if err != nil {
		return job, err
	}
	return done, nil
}

// Status fetches a snapshot by the client-supplied id. A malformed id denotes
// no job and maps to ErrNotFound like an unknown one.
func (s *JobService) Status(id string) (domain.Job, error) {
	jobID, err := uuid.Parse(id)
	if err != nil {
		return domain.Job{}, fmt.Errorf("service: job %q: %w", id, domain.ErrNotFound)
	}
	return s.store.Get(jobID)
}

// Health reports the operational snapshot.
func (s *JobService) Health() Health {
	var ws worker.Stats
	if s.pool != nil {
		ws = s.pool.Stats()
	}
	return Health{
		Status:        "ok",
		ModelLoaded:   true,
		Model:         s.info.Model,
		Backend:       s.info.Backend,
		Device:        s.device,
		Version:       s.version,
		QueueDepth:    s.queue.Depth(),
		QueueCapacity: s.queue.Capacity(),
		Workers:       ws,
		Uptime:        time.Since(s.started),
	}
}

// Stats reports lifetime counters and current record counts.
func (s *JobService) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Rejected:  s.rejected.Load(),
		Counts:    s.store.StatusCounts(),
	}
}
