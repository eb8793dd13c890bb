// jobwatch-watcher-service
//
// Watches configured job-posting sources, reconciles each scrape into
// posting lifecycle transitions, and matches new/updated postings
// against subscriber alerts. Match events are published to Redis for the
// delivery workers.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobwatch/watcher-service/internal/alert"
	"jobwatch/watcher-service/internal/config"
	"jobwatch/watcher-service/internal/db"
	"jobwatch/watcher-service/internal/extract"
	"jobwatch/watcher-service/internal/logging"
	"jobwatch/watcher-service/internal/model"
	"jobwatch/watcher-service/internal/notify"
	"jobwatch/watcher-service/internal/reconcile"
	"jobwatch/watcher-service/internal/scheduler"
	"jobwatch/watcher-service/internal/session"
	"jobwatch/watcher-service/internal/store"
)

const version = "1.0.0"

func main() {
	logger := logging.New("watcher-service")

	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[watcher-service] Config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	logger.Info("connecting to PostgreSQL")
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[watcher-service] PostgreSQL: %v", err)
	}
	defer pool.Close()

	// ── Redis ────────────────────────────────────────────────────────────────
	logger.Info("connecting to Redis")
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("[watcher-service] Redis: %v", err)
	}
	defer rdb.Close()

	// ── Core wiring ──────────────────────────────────────────────────────────
	st := store.NewPostgres(pool)
	client := &http.Client{Timeout: 30 * time.Second}
	extractor := extract.NewLimited(extract.NewRegistry(client))
	reconciler := reconcile.New(st, logger, nil)

	opts := session.DefaultOptions()
	opts.Attempts = uint(cfg.RetryAttempts)
	opts.AttemptTimeout = time.Duration(cfg.AttemptTimeoutSecs) * time.Second
	coordinator := session.NewCoordinator(st, extractor, reconciler, logger, opts)

	engine := alert.NewEngine(st, notify.NewRedis(rdb), logger, nil)

	catalog := func(context.Context) ([]model.Source, error) {
		return config.LoadSources(cfg.SourceCatalogPath)
	}

	sched := scheduler.New(coordinator, engine, catalog, logger, cfg.ScrapeIntervalHours, cfg.ScrapeWorkers)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[watcher-service] Scheduler: %v", err)
	}
	logger.Info("started", "version", version, "catalog", cfg.SourceCatalogPath)

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()
	cancel()
	logger.Info("stopped")
}
