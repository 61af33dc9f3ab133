package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/haukened/vanish/internal/app"
	"github.com/haukened/vanish/internal/auth"
	"github.com/haukened/vanish/internal/blob/filesystem"
	blobs3 "github.com/haukened/vanish/internal/blob/s3"
	"github.com/haukened/vanish/internal/config"
	"github.com/haukened/vanish/internal/httpx"
	"github.com/haukened/vanish/internal/logging"
	"github.com/haukened/vanish/internal/metrics"
	"github.com/haukened/vanish/internal/passwd"
	"github.com/haukened/vanish/internal/reaper"
	"github.com/haukened/vanish/internal/store/postgres"
	"github.com/haukened/vanish/internal/store/sqlite"
)

// realClock implements app.Clock using time.Now.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// deps holds everything built from configuration. close releases the
// backing stores in reverse order of construction.
type deps struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Manager
	records app.RecordStore
	blobs   app.BlobStore
	blobUI  http.Handler // non-nil for the filesystem driver
	svc     *app.Service
	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	return logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

// ensureDataDir creates the data directory and, for the filesystem driver,
// its blob subdirectory.
func ensureDataDir(cfg *config.Config) (string, string, error) {
	dir := cfg.DataDir
	if st, err := os.Stat(dir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("stat data directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", "", fmt.Errorf("create data directory: %w", err)
		}
	} else if !st.IsDir() {
		return "", "", fmt.Errorf("data path %s is not a directory", dir)
	}
	blobDir := cfg.BlobDir()
	if cfg.BlobDriver == "filesystem" {
		if err := os.MkdirAll(blobDir, 0o700); err != nil {
			return "", "", fmt.Errorf("create blobs dir: %w", err)
		}
	}
	return dir, filepath.Clean(blobDir), nil
}

// openRecords builds the configured record store, migrating its schema.
func openRecords(ctx context.Context, cfg *config.Config) (app.RecordStore, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return nil, nil, err
		}
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	default:
		db, err := sqlite.Open(cfg.SQLiteDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		idx, err := sqlite.New(db)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		return idx, func() { _ = db.Close() }, nil
	}
}

// openBlobs builds the configured blob store. The filesystem driver also
// returns the handler that serves its retrieval URLs.
func openBlobs(ctx context.Context, cfg *config.Config, blobDir string) (app.BlobStore, http.Handler, error) {
	switch cfg.BlobDriver {
	case "s3":
		st, err := blobs3.New(ctx, blobs3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Prefix:    cfg.S3Prefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
			LinkTTL:   cfg.LinkTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 blob store: %w", err)
		}
		return st, nil, nil
	default:
		st, err := filesystem.New(blobDir, cfg.PublicURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init blob storage: %w", err)
		}
		return st, st, nil
	}
}

func buildService(d *deps, clock app.Clock) *app.Service {
	return &app.Service{
		Records:    d.records,
		Blobs:      d.blobs,
		Hasher:     passwd.New(d.cfg.PasswordCost),
		Clock:      clock,
		Logger:     d.logger,
		Metrics:    d.metrics,
		MaxBytes:   d.cfg.MaxBytes.Int64(),
		DefaultTTL: d.cfg.DefaultTTL,
		MaxTTL:     d.cfg.MaxTTL,
		IOTimeout:  d.cfg.IOTimeout,
		LinkTTL:    d.cfg.LinkTTL,
	}
}

// build opens both stores and the service. Callers must call close.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*deps, error) {
	d := &deps{cfg: cfg, logger: logger, metrics: metrics.New()}
	_, blobDir, err := ensureDataDir(cfg)
	if err != nil {
		return nil, err
	}
	records, closeRecords, err := openRecords(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.records = records
	d.closers = append(d.closers, closeRecords)

	d.blobs, d.blobUI, err = openBlobs(ctx, cfg, blobDir)
	if err != nil {
		d.close()
		return nil, err
	}
	d.svc = buildService(d, realClock{})
	return d, nil
}

func newVerifier(cfg *config.Config, logger *slog.Logger) (*auth.Verifier, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, logger)
}

func buildHandler(d *deps) (http.Handler, error) {
	h := httpx.New(d.svc, d.cfg.MaxBytes.Int64(), d.svc.Ready)
	h.PublicURL = d.cfg.PublicURL
	h.Blobs = d.blobUI
	h.Metrics = d.metrics
	h.MetricsToken = d.cfg.MetricsToken
	h.Logger = d.logger
	v, err := newVerifier(d.cfg, d.logger)
	if err != nil {
		return nil, err
	}
	if v != nil {
		h.Auth = v
	} else {
		d.logger.Warn("jwt_secret not set; owner endpoints are disabled", "domain", "auth")
	}
	return h.Router(), nil
}

func newReaper(d *deps) (*reaper.Reaper, error) {
	return reaper.New(d.svc, d.metrics, reaper.Config{
		Schedule:     d.cfg.ReapSchedule,
		OrphanMinAge: d.cfg.OrphanMinAge,
		Logger:       d.logger,
		Clock:        realClock{},
	})
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.IOTimeout + 30*time.Second,
		WriteTimeout:      cfg.IOTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
