package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"packrip/internal/config"
	"packrip/internal/db"
	"packrip/internal/metrics"
	"packrip/internal/notify"
	"packrip/internal/pgstore"
	"packrip/internal/realtime"
	"packrip/internal/sweep"
	"packrip/internal/trade"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	engine := trade.NewEngine(pgstore.NewTrades(pool, logger), logger, trade.WithObserver(metrics.ObserveTrade))

	var lock sweep.Locker = sweep.NoLock{}
	if cfg.RedisURL != "" {
		redisLock, client, err := sweep.NewRedisLockFromURL(cfg.RedisURL, cfg.SweepEvery)
		if err != nil {
			logger.Error("redis config invalid", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		lock = redisLock
	}
	sweeper := sweep.New(engine, lock, logger)

	if cfg.RunOnce {
		n, held, err := sweeper.Once(ctx)
		if err != nil {
			logger.Error("sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "expired", n, "held_lock", held)
		return
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsServer.Close()
		}()
	}

	sinks := []realtime.Sink{realtime.SinkFunc(func(realtime.Event) { metrics.RealtimeEventsTotal.Inc() })}
	if cfg.DiscordWebhookURL != "" {
		discord, err := notify.NewDiscord(cfg.DiscordWebhookURL, logger)
		if err != nil {
			logger.Error("discord webhook invalid", "err", err)
			os.Exit(1)
		}
		go discord.Run(ctx)
		sinks = append(sinks, discord)
	}
	listener := realtime.NewListener(cfg.DatabaseURL, logger, sinks...)
	go func() {
		if err := listener.Run(ctx); err != nil {
			logger.Error("trade listener stopped", "err", err)
		}
	}()

	sweeper.Run(ctx, cfg.SweepEvery)
}
