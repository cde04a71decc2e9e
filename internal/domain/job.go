package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ErrCodePipeline marks jobs that failed inside the generation backend.
// Refused transitions are logged by the caller, never recorded on a job.
const ErrCodePipeline = "pipeline_error"

// JobError is the structured failure attached to a failed job. Message keeps
// the pipeline's wording untouched so clients see the real cause.
type JobError struct {
	Code    string
	Message string
}

// GenerationMetadata describes how a completed result was produced.
type GenerationMetadata struct {
	GenerationTime time.Duration
	Model          string
	Seed           int64
	Steps          int
}

// GenerationResult carries the finished PNG encodings in generation order.
// Image buffers are written once by the producing worker and must not be
// mutated afterwards.
type GenerationResult struct {
	Images   [][]byte
	Metadata GenerationMetadata
}

// Job encapsulates the lifecycle of one generation request. Exactly one of
// Result and Error is set once the job is terminal.
type Job struct {
	ID          uuid.UUID
	Status      JobStatus
	Params      GenerationParams
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      *GenerationResult
	Error       *JobError
}
