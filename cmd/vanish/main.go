// Package main provides the vanish binary. The default command runs the HTTP
// server and the reaper; subcommands run a single reap cycle, apply schema
// migrations, or mint a development token.
//
// Configuration comes from defaults, an optional .env file, and VANISH_*
// environment variables (see internal/config).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/vanish/internal/auth"
	"github.com/haukened/vanish/internal/config"
	"github.com/haukened/vanish/internal/store/postgres"
	"github.com/haukened/vanish/internal/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("vanish failed", "err", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the root logger.
func setup() (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	logger, closer, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vanish",
		Short:         "Ephemeral text and file sharing service",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newReapCmd(), newMigrateCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one reaper cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			d, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer d.close()
			rp, err := newReaper(d)
			if err != nil {
				return err
			}
			res := rp.RunOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d graveyard=%d orphans=%d failures=%d\n",
				res.Expired, res.Graveyard, res.Orphans, res.Failures)
			if res.Failures > 0 {
				return fmt.Errorf("reap cycle finished with %d failures", res.Failures)
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply record store schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()
			return migrateRecords(cmd.OutOrStdout(), cfg)
		},
	}
}

func migrateRecords(out io.Writer, cfg *config.Config) error {
	if cfg.StoreDriver == "postgres" {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			return err
		}
		fmt.Fprintln(out, "postgres schema up to date")
		return nil
	}
	if _, _, err := ensureDataDir(cfg); err != nil {
		return err
	}
	db, err := sqlite.Open(cfg.SQLiteDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := sqlite.Migrate(db); err != nil {
		return err
	}
	v, dirty, err := sqlite.SchemaVersion(db)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sqlite schema at version %d (dirty=%t)\n", v, dirty)
	return nil
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed bearer token for development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return mintToken(cmd.OutOrStdout(), cfg, subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller id to embed as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func mintToken(out io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	if cfg.JWTSecret == "" {
		return errors.New("VANISH_JWT_SECRET must be set to mint tokens")
	}
	v, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, nil)
	if err != nil {
		return err
	}
	tok, err := v.Issue(subject, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

// runServe runs the HTTP server and the reaper until ctx is cancelled, then
// shuts both down within the configured timeout.
func runServe(ctx context.Context) error {
	cfg, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	handler, err := buildHandler(d)
	if err != nil {
		return err
	}
	rp, err := newReaper(d)
	if err != nil {
		return err
	}
	srv := newServer(cfg, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid(),
			"store", cfg.StoreDriver, "blobs", cfg.BlobDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rp.Start(gctx)
		<-gctx.Done()
		rp.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
