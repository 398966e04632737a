// Command worker runs the background tasks queued by the portal: page
// counting, orphaned file cleanup and password reset mail.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/kikuyu-catholic-sheets/sheets/internal/app"
	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
	"github.com/kikuyu-catholic-sheets/sheets/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("SHEETS_CONFIG_FILE"))
	if err != nil {
		logging.New(os.Stderr, "info").Fatal("load config", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	redisOpt, err := app.RedisOpt(cfg)
	if err != nil {
		logger.Fatal("worker needs SHEETS_REDIS_ADDR; without it the server runs tasks itself", "err", err)
	}
	if cfg.Memory() || cfg.S3Endpoint == "" {
		logger.Fatal("worker needs SHEETS_DATABASE_URL and SHEETS_S3_ENDPOINT to share state with the server")
	}

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open backends", "err", err)
	}
	defer backends.Close()

	scores := repository.NewScoreRepository(backends.Docs, logging.Component(logger, "repository"))
	processor := worker.NewProcessor(scores, backends.Objects, app.Mailer(cfg, logger), logging.Component(logger, "worker"))

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      logging.TaskLogger{L: logging.Component(logger, "asynq")},
	})
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker started", "concurrency", cfg.Workers)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
