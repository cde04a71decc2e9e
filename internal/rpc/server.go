package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
	"diffusion-server/internal/service"
)

// Server serves the binary protocol over TCP. Connections are handled
// concurrently; requests on one connection are answered in order.
type Server struct {
	svc    *service.JobService
	logger zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer wires a server around the shared service core.
func NewServer(svc *service.JobService, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		svc:     svc,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Shutdown closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("rpc: listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.baseCtx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpc: accept: %w", err)
		}
		s.track(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.forget(conn)
	defer conn.Close()

	logger := s.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("rpc: connection opened")

	br := bufio.NewReader(conn)
	for {
		var req Request
		if err := ReadFrame(br, &req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug().Msg("rpc: connection closed")
				return
			}
			// The stream is out of sync after a framing error: reply once,
			// then close.
			logger.Warn().Err(err).Msg("rpc: bad frame, dropping connection")
			_ = WriteFrame(conn, &Response{Code: CodeInvalidArgument, Error: err.Error()})
			return
		}

		resp := s.dispatch(conn, br, &req)
		if err := WriteFrame(conn, resp); err != nil {
			logger.Warn().Err(err).Msg("rpc: write response")
			return
		}
		if resp.Code != CodeOK {
			logger.Info().Str("op", req.Op).Str("code", resp.Code).Str("detail", resp.Error).Msg("rpc: request refused")
		}
	}
}

func (s *Server) dispatch(conn net.Conn, br *bufio.Reader, req *Request) *Response {
	switch req.Op {
	case OpGenerate:
		return s.handleGenerate(conn, br, req)
	case OpStatus:
		if req.JobID == "" {
			return &Response{Code: CodeInvalidArgument, Error: "rpc: job_id is required"}
		}
		job, err := s.svc.Status(req.JobID)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Code: CodeOK, Job: wireJob(job)}
	case OpHealth:
		return &Response{Code: CodeOK, Health: s.health()}
	default:
		return &Response{Code: CodeInvalidArgument, Error: fmt.Sprintf("rpc: unknown op %q", req.Op)}
	}
}

func (s *Server) handleGenerate(conn net.Conn, br *bufio.Reader, req *Request) *Response {
	if req.Params == nil {
		return &Response{Code: CodeInvalidArgument, Error: "rpc: params are required"}
	}
	if !req.Wait {
		job, err := s.svc.Submit(*req.Params)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Code: CodeOK, Job: wireJob(job)}
	}

	// Waits ride a per-request context, so both Shutdown and a client
	// disconnect wake them while the jobs themselves keep running. One
	// request is in flight per connection, so a read completing during the
	// wait means the peer went away or pipelined the next request. A failed
	// job is still code ok here: the request worked, the outcome travels in
	// the job payload.
	waitCtx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if _, err := br.Peek(1); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// The wait finished first and unblocked the probe below.
				return
			}
			cancel()
		}
		// Pipelined input stays buffered for the read loop.
	}()

	job, err := s.svc.SubmitAndWait(waitCtx, *req.Params)
	cancel()
	_ = conn.SetReadDeadline(time.Now())
	<-watchDone
	_ = conn.SetReadDeadline(time.Time{})

	if err != nil {
		resp := errorResponse(err)
		if job.ID != uuid.Nil {
			resp.Job = wireJob(job)
		}
		return resp
	}
	return &Response{Code: CodeOK, Job: wireJob(job)}
}

func (s *Server) health() *Health {
	h := s.svc.Health()
	return &Health{
		Status:        h.Status,
		ModelLoaded:   h.ModelLoaded,
		Model:         h.Model,
		Device:        h.Device,
		QueueLength:   h.QueueDepth,
		QueueCapacity: h.QueueCapacity,
		ActiveWorkers: h.Workers.Busy,
		TotalWorkers:  h.Workers.Total,
		Version:       h.Version,
		UptimeSeconds: int64(h.Uptime.Seconds()),
	}
}

func errorResponse(err error) *Response {
	return &Response{Code: codeFor(err), Error: err.Error()}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidParams):
		return CodeInvalidArgument
	case errors.Is(err, domain.ErrQueueFull):
		return CodeResourceExhausted
	case errors.Is(err, domain.ErrQueueClosed), errors.Is(err, context.Canceled):
		return CodeUnavailable
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return CodeDeadlineExceeded
	default:
		return CodeInternal
	}
}

// Shutdown stops accepting, wakes waiting requests and drains connections.
// Once ctx ends the remaining connections are force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("rpc: drained")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("rpc: grace period over, closing connections")
		s.closeConns()
		<-done
		return ctx.Err()
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}
