package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"diffusion-server/internal/domain"
)

// Generate handles POST /v1/generate. The default mode is asynchronous:
// the job is admitted and the id returned immediately. With ?wait=true the
// request blocks until the job is terminal or the wait cap lapses.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return
	}
	if r.URL.Query().Get("wait") == "true" {
		a.generateWait(w, r, req)
		return
	}

	job, err := a.Service.Submit(req)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID.String(),
		"status": "pending",
		"seed":   job.Params.Seed,
	})
}

func (a *App) generateWait(w http.ResponseWriter, r *http.Request, req domain.GenerationRequest) {
	job, err := a.Service.SubmitAndWait(r.Context(), req)
	if err != nil {
		// A lapsed wait still hands out the id so the client can poll.
		if errors.Is(err, context.DeadlineExceeded) && job.ID != uuid.Nil {
			a.json(w, http.StatusGatewayTimeout, map[string]any{
				"error":  errorBody{Code: "deadline_exceeded", Message: err.Error()},
				"job_id": job.ID.String(),
				"status": "pending",
			})
			return
		}
		a.serviceError(w, err)
		return
	}
	if job.Status == domain.JobStatusFailed {
		a.json(w, http.StatusInternalServerError, jobView(job))
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// GenerateBinary handles POST /v1/generate/binary: submit-and-wait, then the
// first finished image as the raw response body.
func (a *App) GenerateBinary(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "invalid payload")
		return
	}

	job, err := a.Service.SubmitAndWait(r.Context(), req)
	if err != nil {
		a.serviceError(w, err)
		return
	}
	if job.Status == domain.JobStatusFailed {
		code, message := "internal", "generation failed"
		if job.Error != nil {
			code, message = job.Error.Code, job.Error.Message
		}
		a.error(w, http.StatusInternalServerError, code, message)
		return
	}
	if job.Result == nil || len(job.Result.Images) == 0 {
		a.error(w, http.StatusInternalServerError, "internal", "job completed without images")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Job-ID", job.ID.String())
	w.Header().Set("X-Seed", strconv.FormatInt(job.Params.Seed, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.Result.Images[0])
}
