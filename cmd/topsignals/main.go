package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"TopSignals/internal/collector"
	"TopSignals/internal/config"
	"TopSignals/internal/fetch"
	"TopSignals/internal/logging"
	"TopSignals/internal/notifier"
	"TopSignals/internal/provider"
	"TopSignals/internal/scheduler"
	"TopSignals/internal/server"
	"TopSignals/internal/service"
	"TopSignals/internal/snapshot"
	"TopSignals/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "topsignals: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath, ".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	gin.SetMode(cfg.Server.Mode)
	logger.Info("TopSignals starting", "config", cfgPath, "store", cfg.Database.Driver)

	store, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	metrics := telemetry.New()
	f := fetch.New(fetch.NewHTTPClient(cfg.Providers.Timeout.D(), cfg.Proxy), logger)
	svc := service.New(service.Options{
		Providers: service.NewProviders(f, endpoints(cfg), service.Keys{
			CryptoCompare: cfg.Providers.CryptoCompareKey,
			CoinGecko:     cfg.Providers.CoinGeckoKey,
			SearchAPI:     cfg.Providers.SearchAPIKey,
			TAAPI:         cfg.Providers.TAAPISecret,
		}, logger),
		Collector: collector.New(f, logger),
		Tracker:   snapshot.NewTracker(store, cfg.Polarities(), logger),
		Config:    cfg,
		Observer:  metrics,
		Cache:     metrics,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tn *notifier.TelegramNotifier
	var sender scheduler.Sender
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, logger)
		sender = tn
	} else {
		logger.Warn("telegram not configured, alerts are logged only")
	}

	sched := scheduler.NewScheduler(ctx, svc, sender, metrics, logger)
	if path := cfg.Schedule.AlertStateFile; path != "" {
		if err := sched.Alerter.Restore(path); err != nil {
			logger.Warn("alert state not restored, starting clean", "path", path, "error", err)
		}
	}
	if err := sched.RegisterAll(cfg.Schedule.WarmCron, cfg.Schedule.SignalCron); err != nil {
		return fmt.Errorf("register cron tasks: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		logger.Info("RUN_ON_START enabled, warming caches now")
		go sched.RunWarmNow()
	}

	srv := server.New(cfg.Server.Addr, svc, metrics, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, cfg.Server.ShutdownTimeout.D()) })

	logger.Info("TopSignals is running, press Ctrl+C to stop")
	err = g.Wait()
	logger.Info("TopSignals stopped")
	return err
}

func openStore(cfg *config.Config, logger *slog.Logger) (snapshot.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return snapshot.NewPostgresStore(context.Background(), cfg.Database.DSN, logger)
	case "memory":
		return snapshot.NewMemoryStore(), nil
	default:
		return snapshot.NewSQLiteStore(cfg.Database.SQLitePath, logger)
	}
}

func endpoints(cfg *config.Config) provider.Endpoints {
	ep := provider.DefaultEndpoints()
	o := cfg.Providers.Endpoints
	for _, kv := range []struct {
		dst *string
		v   string
	}{
		{&ep.Binance, o.Binance},
		{&ep.CryptoCompare, o.CryptoCompare},
		{&ep.CoinGecko, o.CoinGecko},
		{&ep.Yahoo, o.Yahoo},
		{&ep.TAAPI, o.TAAPI},
		{&ep.SearchAPI, o.SearchAPI},
		{&ep.AppleRSS, o.AppleRSS},
	} {
		if kv.v != "" {
			*kv.dst = kv.v
		}
	}
	return ep
}
