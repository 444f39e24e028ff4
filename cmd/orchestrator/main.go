package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/not-nullexception/image-orchestrator/internal/api/router"
	"github.com/not-nullexception/image-orchestrator/internal/app"
	"github.com/not-nullexception/image-orchestrator/internal/db/memory"
	"github.com/not-nullexception/image-orchestrator/internal/dispatcher"
	"github.com/not-nullexception/image-orchestrator/internal/events"
	"github.com/not-nullexception/image-orchestrator/internal/events/rabbitmq"
	"github.com/not-nullexception/image-orchestrator/internal/logger"
	"github.com/not-nullexception/image-orchestrator/internal/metrics"
	"github.com/not-nullexception/image-orchestrator/internal/mirror"
	"github.com/not-nullexception/image-orchestrator/internal/mirror/minio"
	"github.com/not-nullexception/image-orchestrator/internal/monitor"
	"github.com/not-nullexception/image-orchestrator/internal/output"
	imageprocessor "github.com/not-nullexception/image-orchestrator/internal/processor/image"
	"github.com/not-nullexception/image-orchestrator/internal/tracing"
	"github.com/not-nullexception/image-orchestrator/internal/worker"
)

func main() {
	// Create a context that will be canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("Failed to parse flags")
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Setup(&cfg.Log)
	metrics.Init()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}
	defer shutdownTracing()

	fs := afero.NewOsFs()
	for _, dir := range []string{cfg.Storage.OutputDir, cfg.Storage.InputDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create managed directory")
		}
	}

	clock := clockwork.NewRealClock()
	images := memory.NewImageRegistry(fs, clock, cfg.Storage.InputDir)
	tasks := memory.NewTaskRegistry(images, clock)

	if _, err := images.Scan(ctx, cfg.Storage.InputDir, cfg.Storage.OutputDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to scan managed directories")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		publisher, err = rabbitmq.NewPublisher(ctx, &cfg.RabbitMQ)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create RabbitMQ publisher")
		}
	}
	defer publisher.Close()

	var uploader mirror.Uploader = mirror.Nop{}
	if cfg.MinIO.Enabled {
		uploader, err = minio.NewUploader(ctx, &cfg.MinIO, fs)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create MinIO uploader")
		}
	}
	defer uploader.Close()

	sink := output.New(cfg.Output, clock)
	mon := monitor.New(tasks, images, sink, cfg.Monitor.BufferSize, cfg.Monitor.PollInterval, clock)
	pool := worker.New(cfg.Worker, worker.Dependencies{
		Images:    images,
		Tasks:     tasks,
		Processor: imageprocessor.New(fs),
		Notifier:  mon,
		Output:    sink,
		Publisher: publisher,
		Mirror:    uploader,
		Clock:     clock,
	})
	d := dispatcher.New(images, tasks, pool, fs, sink, cfg.Dispatch.Concurrency)
	a := app.New(d, pool, mon, sink, cfg.Dispatch.QueueSize)

	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Setup(cfg, d),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: cfg.Server.WaitTimeout + 15*time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info().Str("address", server.Addr).Msg("Starting API server")

			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("API server failed")
			}
		}()

		a.OnShutdown(func(ctx context.Context) {
			shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
			defer shutdownCancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("API server forced to shutdown")
				return
			}
			log.Info().Msg("API server stopped")
		})
	}

	// Set up signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	fmt.Println("PARALLEL IMAGE PROCESSING SYSTEM")
	fmt.Println("Available commands: add, process, delete, list, describe, tasks, exit")

	a.Run(ctx, os.Stdin, os.Stdout)

	log.Info().Msg("Orchestrator stopped")
}
