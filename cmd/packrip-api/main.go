package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"packrip/internal/api"
	"packrip/internal/auth"
	"packrip/internal/catalog"
	"packrip/internal/config"
	"packrip/internal/db"
	"packrip/internal/game"
	"packrip/internal/metrics"
	"packrip/internal/pgstore"
	"packrip/internal/realtime"
	"packrip/internal/reward"
	"packrip/internal/trade"

	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		logger.Error("catalog load failed", "err", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	verifier := auth.NewCachedVerifier(authClient, 4096, time.Minute)
	gameSvc := game.NewService(pool, reward.New(cat), []byte(cfg.TradeRefSecret), logger)
	engine := trade.NewEngine(pgstore.NewTrades(pool, logger), logger,
		trade.WithLockWindow(cfg.TradeLockWindow),
		trade.WithObserver(metrics.ObserveTrade),
	)

	hub := realtime.NewHub(16)
	listener := realtime.NewListener(cfg.DatabaseURL, logger, hub, realtime.SinkFunc(func(realtime.Event) {
		metrics.RealtimeEventsTotal.Inc()
	}))
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("trade listener stopped", "err", err)
		}
	}()

	server := api.New(cfg, logger, authClient, verifier, gameSvc, engine, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("packrip api listening", "addr", cfg.Addr, "drop_id", cat.DropID(), "lock_window", cfg.TradeLockWindow.String())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}
