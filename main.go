package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redeemworker/config"
	"redeemworker/internal/crawler"
	"redeemworker/internal/fetcher"
	"redeemworker/internal/ledger"
	"redeemworker/internal/sites"
	"redeemworker/logger"
	"redeemworker/services/cache"
	"redeemworker/services/dashboard"
	"redeemworker/services/publisher"
	"redeemworker/services/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	store, err := ledger.NewPostgresLedger(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()
	log.Info().Msg("Connected to Postgres")

	registry, err := sites.NewRegistry(cfg.SitesFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SitesFile).Msg("Failed to load sites file")
	}
	if err := registry.Watch(); err != nil {
		log.Warn().Err(err).Msg("Sites file watching disabled")
	}
	defer registry.Close()

	blockCache := cache.NewMemcacheBlockCache(cfg.MemcacheAddr)
	logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)

	pub := publisher.NewRedisPublisher(
		ctx,
		cfg.RedisAddr,
		cfg.RedisDB,
		cfg.RedisStream,
		cfg.RedisStreamCount,
		cfg.RedisStreamMaxLength,
	)
	defer pub.Close()
	logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
		cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)

	pageFetcher := fetcher.New(blockCache, cfg.RequestDelay)
	newRenderer := func(ctx context.Context) worker.RenderSession {
		return fetcher.NewRenderer(ctx)
	}

	limits := crawler.Limits{
		MaxPages:    cfg.MaxPages,
		MaxArticles: cfg.MaxArticles,
		MaxAgeDays:  cfg.MaxAgeDays,
		SkipVisited: cfg.SkipVisited,
	}

	// Create and start worker
	w := worker.New(registry, store, pub, pageFetcher, newRenderer,
		limits, cfg.CrawlInterval, cfg.TriggerCooldown)
	if err := w.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker")
	}
	defer w.Stop()

	// Start dashboard
	srv := dashboard.New(store, registry, w,
		cfg.AdminPasswordHash, cfg.SessionSecret, cfg.Environment == "production")
	dashboardDone := make(chan error, 1)
	go func() {
		dashboardDone <- srv.Start(cfg.DashboardAddr)
	}()

	// Wait for shutdown signal or dashboard error
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
	case err := <-dashboardDone:
		if err != nil {
			log.Error().Err(err).Msg("Dashboard exited with error")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Dashboard shutdown failed")
	}
}
