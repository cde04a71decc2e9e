package domain

import "errors"

var (
	ErrNotFound          = errors.New("job not found")
	ErrQueueFull         = errors.New("queue full")
	ErrQueueClosed       = errors.New("queue closed")
	ErrInvalidParams     = errors.New("invalid generation parameters")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateJobID    = errors.New("duplicate job id")
)
