// Command server runs the marketplace price-watch backend: the REST API,
// the auth WebSocket channel, and the periodic sampling scheduler, all in
// one process backed by a local SQLite database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-market-watch/internal/config"
	httpapi "github.com/tbourn/go-market-watch/internal/http"
	"github.com/tbourn/go-market-watch/internal/marketplace"
	"github.com/tbourn/go-market-watch/internal/observability"
	"github.com/tbourn/go-market-watch/internal/repo"
	"github.com/tbourn/go-market-watch/internal/services"
	"github.com/tbourn/go-market-watch/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	// Marketplace drivers
	sampler := marketplace.NewCardSampler(
		cfg.Marketplace.CardAPIBaseURL,
		cfg.Marketplace.Dest,
		cfg.Marketplace.UserAgent,
		cfg.Marketplace.Timeout,
		log.Logger,
	)
	loginDriver := marketplace.NewLoginClient(
		cfg.Marketplace.LoginBaseURL,
		cfg.Marketplace.UserAgent,
		cfg.Marketplace.Timeout,
		log.Logger,
	)

	// Application services
	agg := services.NewConsensusAggregator(db, cfg.Marketplace.CardAPIBaseURL, log.Logger)
	orch := services.NewScrapeOrchestrator(db, sampler, agg, cfg.Scrape.Delay, log.Logger)
	sched := services.NewScheduler(orch, cfg.Scrape.Interval, cfg.Scrape.Enabled, log.Logger)
	registry := services.NewSessionRegistry(log.Logger)
	login := services.NewLoginService(db, loginDriver, cfg.Marketplace.CodeTimeout, log.Logger)

	deps := httpapi.Deps{
		Accounts: &services.AccountService{DB: db},
		Products: &services.ProductService{DB: db},
		Proxies:  &services.ProxyService{DB: db},
		Registry: registry,
		Login:    login,
		Sched:    sched,
		Agg:      agg,
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	// Periodic sampling loop; exits when ctx is cancelled.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	<-schedDone
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown failed")
	}
	log.Info().Msg("bye")
}
