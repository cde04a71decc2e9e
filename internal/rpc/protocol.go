// Package rpc implements the binary generation protocol: every message is a
// 4-byte big-endian length prefix followed by a MessagePack payload, so peers
// can find message boundaries in the stream without sniffing the encoding.
package rpc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"diffusion-server/internal/domain"
)

// MaxFrameSize bounds a single message. Large enough for a batch of encoded
// images, small enough that a corrupt prefix cannot balloon allocation.
const MaxFrameSize = 64 << 20

// Operations accepted by the server.
const (
	OpGenerate = "generate"
	OpStatus   = "status"
	OpHealth   = "health"
)

// Response codes. They mirror the HTTP error taxonomy so the two front-ends
// report the same outcome vocabulary.
const (
	CodeOK                = "ok"
	CodeInvalidArgument   = "invalid_argument"
	CodeResourceExhausted = "resource_exhausted"
	CodeNotFound          = "not_found"
	CodeDeadlineExceeded  = "deadline_exceeded"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// Request is a single client message.
type Request struct {
	Op     string                    `msgpack:"op"`
	JobID  string                    `msgpack:"job_id,omitempty"`
	Params *domain.GenerationRequest `msgpack:"params,omitempty"`
	Wait   bool                      `msgpack:"wait,omitempty"`
}

// Job is the wire form of a job snapshot. Timestamps are unix seconds.
type Job struct {
	ID          string    `msgpack:"job_id"`
	Status      string    `msgpack:"status"`
	Seed        int64     `msgpack:"seed"`
	SubmittedAt int64     `msgpack:"submitted_at"`
	StartedAt   int64     `msgpack:"started_at,omitempty"`
	CompletedAt int64     `msgpack:"completed_at,omitempty"`
	Images      [][]byte  `msgpack:"images,omitempty"`
	Metadata    *Metadata `msgpack:"metadata,omitempty"`
	Error       *JobError `msgpack:"error,omitempty"`
}

// Metadata describes a completed generation.
type Metadata struct {
	GenerationTimeSeconds float64 `msgpack:"generation_time_seconds"`
	ModelUsed             string  `msgpack:"model_used"`
	Seed                  int64   `msgpack:"seed"`
	ActualSteps           int     `msgpack:"actual_steps"`
}

// JobError carries a failed job's structured error.
type JobError struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// Health is the wire form of the operational snapshot.
type Health struct {
	Status        string `msgpack:"status"`
	ModelLoaded   bool   `msgpack:"model_loaded"`
	Model         string `msgpack:"model"`
	Device        string `msgpack:"device"`
	QueueLength   int    `msgpack:"queue_length"`
	QueueCapacity int    `msgpack:"queue_capacity"`
	ActiveWorkers int    `msgpack:"active_workers"`
	TotalWorkers  int    `msgpack:"total_workers"`
	Version       string `msgpack:"version"`
	UptimeSeconds int64  `msgpack:"uptime_seconds"`
}

// Response is a single server message.
type Response struct {
	Code   string  `msgpack:"code"`
	Error  string  `msgpack:"error,omitempty"`
	Job    *Job    `msgpack:"job,omitempty"`
	Health *Health `msgpack:"health,omitempty"`
}

// WriteFrame msgpack-encodes v and writes it with a length prefix.
func WriteFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("rpc: frame of %d bytes exceeds limit", len(payload))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpc: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message into v. A clean peer close
// before any prefix byte surfaces as io.EOF.
func ReadFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 {
		return fmt.Errorf("rpc: zero-length frame")
	}
	if n > MaxFrameSize {
		return fmt.Errorf("rpc: frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("rpc: read payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("rpc: unmarshal frame: %w", err)
	}
	return nil
}

// statusLabel maps store states onto the three client-visible ones.
func statusLabel(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusQueued, domain.JobStatusRunning:
		return "pending"
	default:
		return string(s)
	}
}

// wireJob converts a job snapshot into its wire form.
func wireJob(j domain.Job) *Job {
	wj := &Job{
		ID:          j.ID.String(),
		Status:      statusLabel(j.Status),
		Seed:        j.Params.Seed,
		SubmittedAt: j.SubmittedAt.Unix(),
	}
	if !j.StartedAt.IsZero() {
		wj.StartedAt = j.StartedAt.Unix()
	}
	if !j.CompletedAt.IsZero() {
		wj.CompletedAt = j.CompletedAt.Unix()
	}
	if j.Result != nil {
		wj.Images = j.Result.Images
		wj.Metadata = &Metadata{
			GenerationTimeSeconds: j.Result.Metadata.GenerationTime.Seconds(),
			ModelUsed:             j.Result.Metadata.Model,
			Seed:                  j.Result.Metadata.Seed,
			ActualSteps:           j.Result.Metadata.Steps,
		}
	}
	if j.Error != nil {
		wj.Error = &JobError{Code: j.Error.Code, Message: j.Error.Message}
	}
	return wj
}
