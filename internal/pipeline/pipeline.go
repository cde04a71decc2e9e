// Package pipeline hosts the generation backends. The scheduler treats them
// as opaque: one call per job, no retry, errors surface verbatim on the job.
package pipeline

import (
	"context"
	"time"

	"diffusion-server/internal/domain"
)

// Result is the raw outcome of one generation run.
type Result struct {
	Images  [][]byte
	Seed    int64
	Steps   int
	Elapsed time.Duration
}

// Info identifies the backend for health reporting and result metadata.
type Info struct {
	Model     string
	Backend   string
	Precision string
}

// Pipeline runs text-to-image generation on a device context.
// Implementations must tolerate concurrent Generate calls; each call receives
// the device owned by the worker driving it.
type Pipeline interface {
	Generate(ctx context.Context, params domain.GenerationParams, device DeviceContext) (Result, error)
	Warmup(ctx context.Context) error
	Info() Info
}
