package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"diffusion-server/internal/http/handlers"
	"diffusion-server/internal/middleware"
)

// Options carries the router knobs that come from config.
type Options struct {
	MaxConcurrent   int
	RateLimitPerMin int
	AllowedOrigins  []string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.MaxConcurrent > 0 {
		r.Use(chimw.Throttle(opts.MaxConcurrent))
	}

	r.Get("/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/generate", func(r chi.Router) {
			if opts.RateLimitPerMin > 0 {
				r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			}
			r.Post("/", app.Generate)
			r.Post("/binary", app.GenerateBinary)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{job_id}", app.JobStatus)
			r.Get("/{job_id}/images/{index}", app.JobImage)
			r.Get("/{job_id}/archive", app.JobArchive)
		})
		r.Get("/stats", app.StatsSummary)
	})

	return r
}
