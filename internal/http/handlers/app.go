package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
	"diffusion-server/internal/service"
)

// App bundles the handler dependencies.
type App struct {
	Service *service.JobService
	Logger  zerolog.Logger
}

func NewApp(svc *service.JobService, logger zerolog.Logger) *App {
	return &App{Service: svc, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// serviceError maps service errors onto the HTTP error taxonomy.
func (a *App) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidParams):
		a.error(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		a.error(w, http.StatusTooManyRequests, "resource_exhausted", err.Error())
	case errors.Is(err, domain.ErrQueueClosed), errors.Is(err, context.Canceled):
		a.error(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		a.error(w, http.StatusGatewayTimeout, "deadline_exceeded", err.Error())
	default:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
