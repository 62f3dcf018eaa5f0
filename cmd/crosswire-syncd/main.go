// Package main runs the crosswire sync daemon: scheduled source sync,
// webhook ingress, AI enrichment, and the graph sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/github"
	"github.com/crosswire-ai/crosswire/internal/adapter/notion"
	"github.com/crosswire-ai/crosswire/internal/adapter/slack"
	"github.com/crosswire-ai/crosswire/internal/adapter/video"
	"github.com/crosswire-ai/crosswire/internal/config"
	"github.com/crosswire-ai/crosswire/internal/enrich"
	"github.com/crosswire-ai/crosswire/internal/objectstore"
	"github.com/crosswire-ai/crosswire/internal/relate"
	"github.com/crosswire-ai/crosswire/internal/secrets"
	"github.com/crosswire-ai/crosswire/internal/store"
	"github.com/crosswire-ai/crosswire/internal/syncer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("daemon exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	blobs, err := newObjectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	box, err := secrets.NewBox(cfg.Secrets.Passphrase)
	if err != nil {
		return err
	}

	registry := adapter.NewRegistry(
		slack.New(logger, slack.WithObjectStore(blobs)),
		github.New(logger),
		notion.New(logger),
		video.New(logger),
	)

	worker := enrich.NewWorker(st, enrich.NewOpenAI(cfg.OpenAI.APIKey), logger,
		enrich.WithQueueSize(cfg.Sync.EnrichQueueSize))
	go worker.Run(ctx)

	// Items stranded pending by a previous crash get re-queued on boot.
	if pending, err := st.ListPendingItems(ctx, cfg.Sync.EnrichQueueSize); err == nil {
		for _, it := range pending {
			if err := worker.Enqueue(ctx, it.ID); err != nil {
				break
			}
		}
	}

	sy := syncer.New(st, registry, box, worker, logger,
		syncer.WithMaxPages(cfg.Sync.MaxPagesPerRun),
		syncer.WithMaxRunTime(cfg.Sync.MaxRunTime))

	sweeper := relate.NewSweeper(st, logger)

	sched, err := syncer.NewScheduler(sy, sweeper, st, logger,
		syncer.WithSweepInterval(cfg.Sync.SweepInterval))
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}()

	webhooks := syncer.NewWebhookServer(sy, logger,
		cfg.Webhooks.SlackSigningSecret, cfg.Webhooks.GitHubSecret)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           webhooks.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook server listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(ctx, cfg.Database.URL, logger)
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (objectstore.ObjectStore, error) {
	if cfg.Storage.Endpoint == "" {
		return objectstore.NewLocalStore(cfg.Storage.LocalDir)
	}
	return objectstore.NewS3Store(ctx, objectstore.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger)
}
