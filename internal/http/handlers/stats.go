package handlers

import (
	"net/http"

	"diffusion-server/internal/domain"
)

func (a *App) StatsSummary(w http.ResponseWriter, r *http.Request) {
	s := a.Service.Stats()
	a.json(w, http.StatusOK, map[string]any{
		"submitted": s.Submitted,
		"rejected":  s.Rejected,
		"queued":    s.Counts[domain.JobStatusQueued],
		"running":   s.Counts[domain.JobStatusRunning],
		"completed": s.Counts[domain.JobStatusCompleted],
		"failed":    s.Counts[domain.JobStatusFailed],
	})
}
