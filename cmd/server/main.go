package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"diffusion-server/internal/domain"
	"diffusion-server/internal/http/handlers"
	"diffusion-server/internal/http/httpapi"
	"diffusion-server/internal/infra"
	"diffusion-server/internal/pipeline"
	"diffusion-server/internal/queue"
	"diffusion-server/internal/rpc"
	"diffusion-server/internal/service"
	"diffusion-server/internal/storage"
	"diffusion-server/internal/store"
	"diffusion-server/internal/worker"
)

const version = "1.0.0"

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	// Job records and their retention sweeper.
	st := store.New(cfg.Retention())
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go st.Run(sweepCtx, cfg.SweepInterval())

	q, err := queue.New(cfg.Queue.Capacity)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue init failed")
	}

	devices := pipeline.ProbeDevices(cfg.Model.Device, cfg.Queue.Workers, logger)

	pipe, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("pipeline init failed")
	}
	logger.Info().
		Str("backend", cfg.Model.Backend).
		Str("model", cfg.Model.Name).
		Str("path", cfg.Model.Path).
		Str("device", string(devices[0].Kind)).
		Str("precision", cfg.Model.Precision).
		Msg("pipeline ready")
	if cfg.Model.Warmup {
		if err := pipe.Warmup(context.Background()); err != nil {
			if cfg.Model.Backend == "remote" {
				logger.Fatal().Err(err).Msg("remote backend warmup failed")
			}
			logger.Warn().Err(err).Msg("warmup failed, continuing")
		}
	}

	// Finished images land on disk only when an output dir is configured.
	var sink worker.Sink
	if cfg.OutputDir != "" {
		fs, err := storage.NewFileStore(cfg.OutputDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("output dir init failed")
		}
		sink = fs
		logger.Info().Str("dir", fs.BasePath()).Msg("image export enabled")
	}

	pool := worker.NewPool(st, q, pipe, devices, sink, logger)
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pool.Start(poolCtx)

	svc := service.New(service.Config{
		Store:        st,
		Queue:        q,
		Pool:         pool,
		PipelineInfo: pipe.Info(),
		Device:       string(devices[0].Kind),
		Limits:       limitsFrom(cfg.Image),
		WaitTimeout:  cfg.RequestTimeout(),
		Version:      version,
		Logger:       logger,
	})

	// HTTP front end.
	app := handlers.NewApp(svc, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		MaxConcurrent:   cfg.Server.MaxConcurrentRequests,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("http server listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Binary RPC front end.
	rpcSrv := rpc.NewServer(svc, logger)
	ln, err := net.Listen("tcp", cfg.RPCAddr())
	if err != nil {
		logger.Fatal().Err(err).Msg("rpc listen failed")
	}
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("rpc server listening")
		if err := rpcSrv.Serve(ln); err != nil {
			logger.Fatal().Err(err).Msg("rpc server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutdown signal received")

	// Stop intake first, then drain. Workers keep running while the front
	// ends drain so wait=true requests can still resolve.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown incomplete")
	}
	if err := rpcSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("rpc shutdown incomplete")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker drain incomplete, cancelling in-flight jobs")
		stopPool()
	}
	logger.Info().Msg("server stopped")
}

func buildPipeline(cfg *infra.Config, logger zerolog.Logger) (pipeline.Pipeline, error) {
	switch cfg.Model.Backend {
	case "remote":
		return pipeline.NewRemote(pipeline.RemoteOptions{
			BaseURL:   cfg.Model.RemoteURL,
			Model:     cfg.Model.Name,
			Precision: cfg.Model.Precision,
			Timeout:   cfg.RequestTimeout(),
			Logger:    logger,
		})
	default:
		return pipeline.NewLocal(cfg.Model.Name, cfg.Model.Precision, logger), nil
	}
}

func limitsFrom(img infra.ImageConfig) domain.Limits {
	return domain.Limits{
		DefaultSteps:    img.DefaultSteps,
		MaxSteps:        img.MaxSteps,
		DefaultGuidance: img.DefaultGuidance,
		DefaultWidth:    img.DefaultWidth,
		DefaultHeight:   img.DefaultHeight,
		MaxWidth:        img.MaxWidth,
		MaxHeight:       img.MaxHeight,
		MinImageSize:    img.MinSize,
		SizeAlignment:   img.SizeAlignment,
	}
}
