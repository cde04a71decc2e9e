package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"diffusion-server/internal/domain"
	"diffusion-server/pkg/zip"
)

// statusLabel maps store states onto the three client-visible ones.
func statusLabel(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusQueued, domain.JobStatusRunning:
		return "pending"
	default:
		return string(s)
	}
}

func jobView(j domain.Job) map[string]any {
	view := map[string]any{
		"job_id":       j.ID.String(),
		"status":       statusLabel(j.Status),
		"seed":         j.Params.Seed,
		"submitted_at": j.SubmittedAt.UTC().Format(time.RFC3339),
	}
	if !j.StartedAt.IsZero() {
		view["started_at"] = j.StartedAt.UTC().Format(time.RFC3339)
	}
	if !j.CompletedAt.IsZero() {
		view["completed_at"] = j.CompletedAt.UTC().Format(time.RFC3339)
	}
	if j.Result != nil {
		images := make([]string, len(j.Result.Images))
		for i, img := range j.Result.Images {
			images[i] = base64.StdEncoding.EncodeToString(img)
		}
		view["images_base64"] = images
		view["metadata"] = map[string]any{
			"generation_time_seconds": j.Result.Metadata.GenerationTime.Seconds(),
			"model_used":              j.Result.Metadata.Model,
			"seed":                    j.Result.Metadata.Seed,
			"actual_steps":            j.Result.Metadata.Steps,
		}
	}
	if j.Error != nil {
		view["error"] = map[string]string{"code": j.Error.Code, "message": j.Error.Message}
	}
	return view
}

// JobStatus handles GET /v1/jobs/{job_id}.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.Service.Status(chi.URLParam(r, "job_id"))
	if err != nil {
		a.serviceError(w, err)
		return
	}
	a.json(w, http.StatusOK, jobView(job))
}

// JobImage handles GET /v1/jobs/{job_id}/images/{index}: one finished image
// as raw PNG.
func (a *App) JobImage(w http.ResponseWriter, r *http.Request) {
	job, err := a.Service.Status(chi.URLParam(r, "job_id"))
	if err != nil {
		a.serviceError(w, err)
		return
	}
	if job.Result == nil {
		a.error(w, http.StatusNotFound, "not_found", "job has no images")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(job.Result.Images) {
		a.error(w, http.StatusNotFound, "not_found", "image index out of range")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Job-ID", job.ID.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.Result.Images[index])
}

// JobArchive handles GET /v1/jobs/{job_id}/archive: all finished images in
// one zip.
func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	job, err := a.Service.Status(chi.URLParam(r, "job_id"))
	if err != nil {
		a.serviceError(w, err)
		return
	}
	if job.Result == nil || len(job.Result.Images) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no images")
		return
	}

	assets := make([]zip.Asset, 0, len(job.Result.Images))
	for i, img := range job.Result.Images {
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("image-%02d.png", i),
			MIME:     "image/png",
			Data:     img,
		})
	}
	archive := zip.ArchiveAssets(assets)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
