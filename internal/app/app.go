// Package app opens the backends selected by the configuration. With no
// database configured every store lives in process.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kikuyu-catholic-sheets/sheets/internal/config"
	"github.com/kikuyu-catholic-sheets/sheets/internal/database"
	"github.com/kikuyu-catholic-sheets/sheets/internal/docstore"
	"github.com/kikuyu-catholic-sheets/sheets/internal/identity"
	"github.com/kikuyu-catholic-sheets/sheets/internal/logging"
	"github.com/kikuyu-catholic-sheets/sheets/internal/mail"
	"github.com/kikuyu-catholic-sheets/sheets/internal/objectstore"
)

// Backends are the storage collaborators shared by the binaries.
type Backends struct {
	Docs    docstore.Store
	Users   identity.UserStore
	Objects objectstore.Store
	// Files is set when objects are kept in process and must be served by
	// the portal itself.
	Files *objectstore.MemoryStore
	pool  *pgxpool.Pool
}

// Open connects to the configured backends. Postgres schemas are migrated
// before use.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Backends, error) {
	if cfg.Memory() {
		logger.Warn("no database configured, data is kept in memory and lost on exit")
		files := objectstore.NewMemoryStore(cfg.BaseURL + "/files")
		return &Backends{
			Docs:    docstore.NewMemoryStore(),
			Users:   identity.NewMemoryUsers(),
			Objects: files,
			Files:   files,
		}, nil
	}

	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	b := &Backends{
		Docs:  docstore.NewPostgresStore(pool),
		Users: identity.NewPostgresUsers(pool),
		pool:  pool,
	}
	if cfg.S3Endpoint == "" {
		logger.Warn("no object storage configured, files are kept in memory")
		b.Files = objectstore.NewMemoryStore(cfg.BaseURL + "/files")
		b.Objects = b.Files
		return b, nil
	}
	store, err := objectstore.NewMinioStore(objectstore.MinioOptions{
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Region:        cfg.S3Region,
		UseSSL:        cfg.S3UseSSL,
		Bucket:        cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	b.Objects = store
	return b, nil
}

// Close releases the database pool.
func (b *Backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// ErrNoRedis is returned by RedisOpt without a configured Redis address.
var ErrNoRedis = errors.New("no redis address configured")

// RedisOpt returns the asynq connection options.
func RedisOpt(cfg *config.Config) (asynq.RedisClientOpt, error) {
	if cfg.RedisAddr == "" {
		return asynq.RedisClientOpt{}, ErrNoRedis
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}

// Mailer picks SMTP delivery when configured and logging otherwise.
func Mailer(cfg *config.Config, logger *log.Logger) mail.Sender {
	if cfg.SMTPAddr == "" {
		return &mail.LogSender{Log: logging.Component(logger, "mail")}
	}
	return &mail.SMTPSender{
		Addr:     cfg.SMTPAddr,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}
}
