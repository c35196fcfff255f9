package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/pratico/magsub/internal/config"
	"github.com/pratico/magsub/internal/domain/alerts"
	"github.com/pratico/magsub/internal/domain/entitlements"
	"github.com/pratico/magsub/internal/domain/issues"
	"github.com/pratico/magsub/internal/domain/subscriptions"
	"github.com/pratico/magsub/internal/engine"
	"github.com/pratico/magsub/internal/export"
	"github.com/pratico/magsub/internal/infra/admin"
	"github.com/pratico/magsub/internal/infra/db"
	httpx "github.com/pratico/magsub/internal/infra/http"
	"github.com/pratico/magsub/internal/infra/logger"
	"github.com/pratico/magsub/internal/infra/shopify"
	"github.com/pratico/magsub/internal/infra/webhooks"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func runMigrations(dsn string, log *slog.Logger) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	cfg, err := config.Load("config/example.yaml")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	if err := runMigrations(cfg.Postgres.DSN, log); err != nil {
		log.Error("migrations failed", "err", err)
		return
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()
	log.Info("db connected")

	issueRepo := issues.NewRepo(pool)
	entitlementRepo := entitlements.NewRepo(pool)
	subscriptionRepo := subscriptions.NewRepo(pool)
	alertRepo := alerts.NewRepo(pool)

	catalog := shopify.NewClient(log, cfg.Shopify.Shop, cfg.Shopify.Token, cfg.Shopify.APIVersion)
	eng := engine.New(log, issueRepo, entitlementRepo, subscriptionRepo, alertRepo, catalog)
	exporter := export.NewBuilder(log, issueRepo, entitlementRepo, catalog)

	wh := webhooks.NewHandler(log, cfg.Shopify.WebhookSecret, eng, catalog)
	api := admin.NewHandler(log, issueRepo, subscriptionRepo, entitlementRepo, alertRepo, eng, catalog, exporter)

	srv := httpx.New(cfg.HTTP.Addr, cfg.Metrics.Enabled, wh, api)
	go func() {
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
