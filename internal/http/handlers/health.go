package handlers

import (
	"net/http"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	h := a.Service.Health()
	a.json(w, http.StatusOK, map[string]any{
		"status":         h.Status,
		"model_loaded":   h.ModelLoaded,
		"model":          h.Model,
		"device":         h.Device,
		"version":        h.Version,
		"queue_depth":    h.QueueDepth,
		"queue_capacity": h.QueueCapacity,
		"workers": map[string]int{
			"total": h.Workers.Total,
			"busy":  h.Workers.Busy,
			"idle":  h.Workers.Idle,
		},
		"uptime_seconds": int64(h.Uptime.Seconds()),
	})
}
