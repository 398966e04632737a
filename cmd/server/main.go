// Command server runs the Kikuyu Catholic Sheets portal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kikuyu-catholic-sheets/sheets/internal/app"
	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/profile"
	"github.com/kikuyu-catholic-sheets/sheets/internal/queue"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
	"github.com/kikuyu-catholic-sheets/sheets/internal/server"
	"github.com/kikuyu-catholic-sheets/sheets/internal/session"
	"github.com/kikuyu-catholic-sheets/sheets/internal/signing"
	"github.com/kikuyu-catholic-sheets/sheets/internal/upload"
	"github.com/kikuyu-catholic-sheets/sheets/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("SHEETS_CONFIG_FILE"))
	if err != nil {
		logging.New(os.Stderr, "info").Fatal("load config", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open backends", "err", err)
	}
	defer backends.Close()

	scores := repository.NewScoreRepository(backends.Docs, logging.Component(logger, "repository"))

	// Without Redis the worker handlers run inside this process.
	var tasks queue.Enqueuer
	if opt, err := app.RedisOpt(cfg); err == nil {
		client := queue.NewClient(opt)
		defer client.Close()
		tasks = client
	} else {
		processor := worker.NewProcessor(scores, backends.Objects, app.Mailer(cfg, logger), logging.Component(logger, "worker"))
		inline := queue.NewInline(ctx, processor.Handler(), logging.Component(logger, "queue"))
		defer inline.Wait()
		tasks = inline
	}

	signer := signing.NewSigner(cfg.SigningSecret)
	var google *identity.Google
	if cfg.GoogleEnabled() {
		google = &identity.Google{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL(),
		}
	}
	ids := identity.NewService(identity.Options{
		Users:    backends.Users,
		Signer:   signer,
		Queue:    tasks,
		BaseURL:  cfg.BaseURL,
		ResetTTL: cfg.ResetTTL,
		Google:   google,
		Logger:   logging.Component(logger, "identity"),
	})
	sessions := session.NewStore(ids, signer, cfg.SessionTTL, logging.Component(logger, "session"))
	defer sessions.Close()

	deps := server.Deps{
		Config:   cfg,
		Scores:   scores,
		Uploads:  upload.NewFlow(backends.Objects, scores, tasks, logging.Component(logger, "upload")),
		Tracker:  upload.NewTracker(10 * time.Minute),
		Profiles: profile.NewManager(scores, backends.Objects, ids, tasks, logging.Component(logger, "profile")),
		Identity: ids,
		Sessions: sessions,
		Signer:   signer,
		Logger:   logging.Component(logger, "http"),
	}
	if backends.Files != nil {
		deps.Files = backends.Files
	}
	srv, err := server.New(deps)
	if err != nil {
		logger.Fatal("init server", "err", err)
	}
	if err := srv.Serve(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
