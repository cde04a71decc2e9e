package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"diffusion-server/internal/domain"
)

func TestFrameRoundTrip(t *testing.T) {
	steps := 30
	req := &Request{
		Op:     OpGenerate,
		Wait:   true,
		Params: &domain.GenerationRequest{Prompt: "a red fox", Steps: &steps},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Op != OpGenerate || !got.Wait {
		t.Fatalf("decoded op/wait = %q/%v", got.Op, got.Wait)
	}
	if got.Params == nil || got.Params.Prompt != "a red fox" {
		t.Fatalf("decoded params = %+v", got.Params)
	}
	if got.Params.Steps == nil || *got.Params.Steps != 30 {
		t.Fatalf("decoded steps = %v, want 30", got.Params.Steps)
	}
}

func TestReadFrameRejectsOversizedPrefix(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], MaxFrameSize+1)
	buf.Write(prefix[:])

	var req Request
	err := ReadFrame(&buf, &req)
	if err == nil || !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("err = %v, want frame limit error", err)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})

	var req Request
	if err := ReadFrame(&buf, &req); err == nil {
		t.Fatal("zero-length frame accepted")
	}
}

func TestReadFrameRejectsGarbagePayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 3})
	buf.Write([]byte{0xc1, 0xc1, 0xc1})

	var req Request
	err := ReadFrame(&buf, &req)
	if err == nil || !strings.Contains(err.Error(), "unmarshal") {
		t.Fatalf("err = %v, want unmarshal error", err)
	}
}

func TestReadFrameReportsCleanClose(t *testing.T) {
	var req Request
	if err := ReadFrame(bytes.NewReader(nil), &req); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestStatusLabels(t *testing.T) {
	cases := map[domain.JobStatus]string{
		domain.JobStatusQueued:    "pending",
		domain.JobStatusRunning:   "pending",
		domain.JobStatusCompleted: "completed",
		domain.JobStatusFailed:    "failed",
	}
	for status, want := range cases {
		if got := statusLabel(status); got != want {
			t.Errorf("statusLabel(%s) = %q, want %q", status, got, want)
		}
	}
}

func TestWireJobCarriesResult(t *testing.T) {
	id := uuid.New()
	submitted := time.Unix(1700000000, 0)
	j := domain.Job{
		ID:          id,
		Status:      domain.JobStatusCompleted,
		Params:      domain.GenerationParams{Seed: 42},
		SubmittedAt: submitted,
		StartedAt:   submitted.Add(time.Second),
		CompletedAt: submitted.Add(3 * time.Second),
		Result: &domain.GenerationResult{
			Images: [][]byte{{0x89, 0x50, 0x4e, 0x47}},
			Metadata: domain.GenerationMetadata{
				GenerationTime: 1500 * time.Millisecond,
				Model:          "stable-diffusion-v1-5",
				Seed:           42,
				Steps:          50,
			},
		},
	}

	wj := wireJob(j)
	if wj.ID != id.String() || wj.Status != "completed" || wj.Seed != 42 {
		t.Fatalf("wire job = %+v", wj)
	}
	if wj.SubmittedAt != 1700000000 || wj.StartedAt != 1700000001 || wj.CompletedAt != 1700000003 {
		t.Fatalf("timestamps = %d/%d/%d", wj.SubmittedAt, wj.StartedAt, wj.CompletedAt)
	}
	if len(wj.Images) != 1 {
		t.Fatalf("images = %d, want 1", len(wj.Images))
	}
	if wj.Metadata == nil || wj.Metadata.GenerationTimeSeconds != 1.5 || wj.Metadata.ActualSteps != 50 {
		t.Fatalf("metadata = %+v", wj.Metadata)
	}
	if wj.Error != nil {
		t.Fatalf("unexpected error payload: %+v", wj.Error)
	}
}

func TestWireJobCarriesFailure(t *testing.T) {
	j := domain.Job{
		ID:          uuid.New(),
		Status:      domain.JobStatusFailed,
		SubmittedAt: time.Unix(1700000000, 0),
		CompletedAt: time.Unix(1700000002, 0),
		Error:       &domain.JobError{Code: domain.ErrCodePipeline, Message: "CUDA out of memory"},
	}

	wj := wireJob(j)
	if wj.Status != "failed" {
		t.Fatalf("status = %q", wj.Status)
	}
	if wj.Error == nil || wj.Error.Code != domain.ErrCodePipeline || wj.Error.Message != "CUDA out of memory" {
		t.Fatalf("error payload = %+v", wj.Error)
	}
	if wj.StartedAt != 0 {
		t.Fatalf("started_at = %d, want omitted", wj.StartedAt)
	}
}
