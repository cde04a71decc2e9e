package infra

import (
	"context"
	"net/http"
	"time"
)

// HTTPServer wraps the standard server with timeouts sized for long-poll
// generation requests.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              cfg.HTTPAddr(),
			Handler:           handler,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// Write timeout has to outlast a wait=true request that runs the
			// full request timeout before responding.
			WriteTimeout: cfg.RequestTimeout() + 30*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
