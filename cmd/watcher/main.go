// Command watcher tracks marketplace collections and broadcasts progress,
// discovery, deadline and price alerts.
//
// Usage:
//
//	watcher
//	ENVIRONMENT=production API_PORT=8080 watcher

// @title collection-watch status API
// @version 1.0.0
// @description Read-only view of tracked collections, discovery and scheduled alerts.
// @BasePath /
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/collection-watch/internal/api"
	"github.com/albapepper/collection-watch/internal/api/handler"
	"github.com/albapepper/collection-watch/internal/cache"
	"github.com/albapepper/collection-watch/internal/chart"
	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/config"
	"github.com/albapepper/collection-watch/internal/db"
	"github.com/albapepper/collection-watch/internal/detect"
	"github.com/albapepper/collection-watch/internal/discovery"
	"github.com/albapepper/collection-watch/internal/dispatch"
	"github.com/albapepper/collection-watch/internal/history"
	"github.com/albapepper/collection-watch/internal/maintenance"
	"github.com/albapepper/collection-watch/internal/marketplace"
	"github.com/albapepper/collection-watch/internal/metrics"
	"github.com/albapepper/collection-watch/internal/monitor"
	"github.com/albapepper/collection-watch/internal/notify"
	"github.com/albapepper/collection-watch/internal/notify/kafkasink"
	"github.com/albapepper/collection-watch/internal/notify/telegram"
	"github.com/albapepper/collection-watch/internal/notify/yoai"
	"github.com/albapepper/collection-watch/internal/pricefeed"
	"github.com/albapepper/collection-watch/internal/schedule"
	"github.com/albapepper/collection-watch/internal/seeds"
	"github.com/albapepper/collection-watch/internal/store"

	_ "github.com/albapepper/collection-watch/docs" // swagger docs
)

func main() {
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		level.Set(slog.LevelDebug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Watcher failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc := cfg.Location()
	m := metrics.New()

	sd, err := seeds.Load(cfg.SeedsFile)
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	farmers := seeds.NewFarmerSet(sd.FarmerCollections)
	if cfg.SeedsFile != "" {
		go func() {
			if err := seeds.Watch(ctx, cfg.SeedsFile, farmers, logger); err != nil {
				logger.Warn("Seeds watcher stopped", "error", err)
			}
		}()
	}

	mp := marketplace.NewClient(cfg.BaseURL, cfg.PartnerID, cfg.MarketplaceRPM, cfg.MarketplaceTimeout, logger)
	st := store.New()
	appCache := cache.New(cfg.CacheEnabled)
	defer appCache.Close()

	// --- Notification transports ---
	queue := dispatch.New(dispatch.Options{
		Spacing:       cfg.DispatchSpacing,
		RetryFallback: cfg.DispatchRetryFallback,
		Logger:        logger,
	})
	defer queue.Close()

	formatter := notify.NewFormatter()
	formatter.SiteURL = cfg.PublicSiteURL
	formatter.MirrorURL = cfg.MirrorSiteURL
	formatter.FastURL = cfg.FastSiteURL
	formatter.Location = loc

	var farmerBot telegram.Sender
	if cfg.FarmerToken != "" && cfg.FarmerChannelID != "" {
		farmerBot = telegram.NewBot(cfg.FarmerToken, "", logger)
	}
	transports := []notify.Transport{
		telegram.New(telegram.NewBot(cfg.TelegramToken, "", logger), farmerBot, queue, formatter, telegram.Config{
			ChannelID:       cfg.TelegramChannelID,
			FarmerChannelID: cfg.FarmerChannelID,
			Mirror:          cfg.SendToFarmer,
			ImageHostOld:    cfg.ImageHostRewriteOld,
			ImageHostNew:    cfg.ImageHostRewriteNew,
		}, logger),
	}
	if cfg.YoEnabled() {
		transports = append(transports, yoai.New(cfg.YoBaseURL, cfg.YoToken, cfg.YoChannelID, queue, formatter, logger))
	}
	if cfg.KafkaEnabled() {
		sink := kafkasink.New(kafkasink.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), logger)
		defer sink.Close()
		transports = append(transports, sink)
	}
	alerts := notify.NewFanOut(transports, m, logger)
	logger.Info("Notification transports ready", "transports", alerts.Transports())

	// --- Detection, scheduling, discovery ---
	detector := detect.New(detect.Options{
		Charts:     mp,
		Renderer:   chart.New(chart.Options{}),
		Alerts:     alerts,
		Farmers:    farmers,
		Privileged: farmerBot != nil,
		Logger:     logger,
	})
	scheduler := schedule.New(schedule.Options{Alerts: alerts, Gauge: m, Logger: logger})
	scanner := discovery.New(discovery.Options{
		Prober:             mp,
		Scheduler:          scheduler,
		Store:              st,
		Metrics:            m,
		ForwardWindow:      cfg.ForwardWindow,
		BackwardWindow:     cfg.BackwardWindow,
		MissedIDs:          sd.MissedIDs,
		MissedScheduledIDs: sd.MissedScheduledIDs,
		Logger:             logger,
	})
	scanner.SetNewCollectionCallback(func(ctx context.Context, c collection.Collection) {
		// The scanner has already ingested c; drop views that predate it.
		appCache.InvalidateCollection(c)
		alerts.NewCollection(ctx, c)
	})

	mon := monitor.New(monitor.Options{
		Fetcher:           mp,
		Store:             st,
		Detector:          detector,
		Discovery:         scanner,
		Scheduler:         scheduler,
		Alerts:            alerts,
		Metrics:           m,
		MainInterval:      cfg.MainInterval,
		DiscoveryInterval: cfg.DiscoveryInterval,
		Logger:            logger,
	})

	// --- Lowest price feed ---
	priceQueue := dispatch.New(dispatch.Options{Spacing: -1, Logger: logger})
	defer priceQueue.Close()
	prices := pricefeed.NewMonitor(pricefeed.Options{
		Collections: st,
		Alerts:      alerts,
		Queue:       priceQueue,
		Metrics:     m,
		Logger:      logger,
	})
	feed := pricefeed.NewFeed(pricefeed.FeedConfig{URL: cfg.FeedURL, PartnerID: cfg.PartnerID}, prices, m, logger)

	// --- Chart history (optional) ---
	var (
		hist   *history.Store
		pinger handler.Pinger
	)
	if cfg.HistoryEnabled() {
		logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		logger.Info("Database connected", "min_conns", cfg.DBPoolMinConns, "max_conns", cfg.DBPoolMaxConns)
		hist = history.New(pool, loc)
		pinger = pool
	} else {
		logger.Info("Chart history disabled (no DATABASE_URL)")
	}

	// --- Daily jobs ---
	mcfg := maintenance.DefaultConfig()
	mcfg.Location = loc
	mcfg.DigestHour, mcfg.DigestMinute, err = config.ParseClock(cfg.RewardDigestAt)
	if err != nil {
		return err
	}
	if cfg.HistoryKeep > 0 {
		mcfg.KeepDays = cfg.HistoryKeep
	}
	deps := maintenance.Deps{Digest: mon, Collections: st, Charts: mp}
	if hist != nil {
		deps.History = hist
	}
	runner := maintenance.New(mcfg, deps, logger)

	// --- Status API ---
	hdeps := handler.Deps{
		Store:     st,
		Monitor:   mon,
		Discovery: scanner,
		Scheduler: scheduler,
		Prices:    prices,
		DB:        pinger,
		Cache:     appCache,
	}
	if hist != nil {
		hdeps.History = hist
	}
	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(hdeps, m.Handler(), cfg, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting status API", "addr", addr, "environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// --- Start ---
	mon.Start(ctx)
	go feed.Run(ctx)
	go runner.Start(ctx)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		mon.Stop()
		return fmt.Errorf("status API: %w", err)
	}
	logger.Info("Shutting down...")

	mon.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Watcher stopped")
	return nil
}
