// Package worker executes admitted jobs on a fixed pool of device-bound
// slots.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
	"diffusion-server/internal/pipeline"
	"diffusion-server/internal/queue"
	"diffusion-server/internal/store"
)

// Sink receives finished images for export, keyed by job id. A nil sink
// disables export; sink errors never affect the job outcome.
type Sink interface {
	SaveImages(ctx context.Context, jobID uuid.UUID, images [][]byte) error
}

// Stats is a point-in-time view of pool occupancy.
type Stats struct {
	Total int
	Busy  int
	Idle  int
}

// Pool drains the admission queue with one goroutine per device context.
// Workers claim jobs through the store's queued to running transition, run
// the pipeline and record the outcome. There is no retry: a failed job stays
// failed and an unclaimable id is skipped.
type Pool struct {
	store   *store.Store
	queue   *queue.Queue
	pipe    pipeline.Pipeline
	devices []pipeline.DeviceContext
	sink    Sink
	logger  zerolog.Logger

	busy atomic.Int32
	wg   sync.WaitGroup
}

// NewPool wires the pool. len(devices) fixes the worker count; worker i owns
// devices[i] for its lifetime.
func NewPool(st *store.Store, q *queue.Queue, pipe pipeline.Pipeline, devices []pipeline.DeviceContext, sink Sink, logger zerolog.Logger) *Pool {
	return &Pool{
		store:   st,
		queue:   q,
		pipe:    pipe,
		devices: devices,
		sink:    sink,
		logger:  logger,
	}
}

// Start launches the worker loops. ctx bounds pipeline execution; a graceful
// drain leaves it intact so running generations finish.
func (p *Pool) Start(ctx context.Context) {
	for i, dev := range p.devices {
		p.wg.Add(1)
		go p.run(ctx, i, dev)
	}
	p.logger.Info().Int("workers", len(p.devices)).Msg("worker: pool started")
}

func (p *Pool) run(ctx context.Context, id int, dev pipeline.DeviceContext) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Str("device", dev.String()).Logger()
	logger.Info().Msg("worker: started")
	for {
		jobID, ok := p.queue.Dequeue()
		if !ok {
			logger.Info().Msg("worker: stopping")
			return
		}
		p.process(ctx, logger, jobID, dev)
	}
}

func (p *Pool) process(ctx context.Context, logger zerolog.Logger, jobID uuid.UUID, dev pipeline.DeviceContext) {
	if err := p.store.MarkRunning(jobID); err != nil {
		// A refused claim means the record is gone or was already taken.
		// The id is skipped; the worker itself is fine.
		logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("worker: claim refused")
		return
	}

	job, err := p.store.Get(jobID)
	if err != nil {
		logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: job vanished after claim")
		return
	}

	logger.Info().
		Str("job_id", jobID.String()).
		Int("steps", job.Params.Steps).
		Int("width", job.Params.Width).
		Int("height", job.Params.Height).
		Msg("worker: picked job")

	p.busy.Add(1)
	res, genErr := p.pipe.Generate(ctx, job.Params, dev)
	p.busy.Add(-1)

	if genErr != nil {
		logger.Error().Err(genErr).Str("job_id", jobID.String()).Msg("worker: generation failed")
		jobErr := domain.JobError{Code: domain.ErrCodePipeline, Message: genErr.Error()}
		if err := p.store.Fail(jobID, jobErr); err != nil {
			logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: record failure refused")
		}
		return
	}

	result := domain.GenerationResult{
		Images: res.Images,
		Metadata: domain.GenerationMetadata{
			GenerationTime: res.Elapsed,
			Model:          p.pipe.Info().Model,
			Seed:           res.Seed,
			Steps:          res.Steps,
		},
	}
	if err := p.store.Complete(jobID, result); err != nil {
		logger.Error().Err(err).Str("job_id", jobID.String()).Msg("worker: record completion refused")
		return
	}
	logger.Info().
		Str("job_id", jobID.String()).
		Int("images", len(res.Images)).
		Dur("elapsed", res.Elapsed).
		Msg("worker: job completed")

	if p.sink != nil {
		if err := p.sink.SaveImages(ctx, jobID, res.Images); err != nil {
			logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("worker: image export failed")
		}
	}
}

// Stats reports pool occupancy.
func (p *Pool) Stats() Stats {
	busy := int(p.busy.Load())
	return Stats{Total: len(p.devices), Busy: busy, Idle: len(p.devices) - busy}
}

// Shutdown stops the queue and waits for in-flight jobs to record. Ids still
// buffered keep their queued records; nothing cancels a running generation.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Msg("worker: pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker: drain incomplete: %w", ctx.Err())
	}
}
