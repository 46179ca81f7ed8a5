package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"PoE-Chain/internal/api"
	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	"PoE-Chain/internal/config"
	"PoE-Chain/internal/events"
	"PoE-Chain/internal/observability/metrics"
	"PoE-Chain/pkg/logger"
)

// main 是 PoE 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("poed 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("POE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "poe.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("poed")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	m := metrics.New()

	store, err := openClaimStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Warn("关闭存证存储失败", slog.String("error", err.Error()))
		}
	}()

	clk, closeClock, err := openClock(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeClock()

	publishers, err := openPublishers(ctx, cfg)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(publishers,
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithWorkers(cfg.Events.Workers),
		events.WithPublishTimeout(cfg.Events.PublishTimeout),
		events.WithMetrics(m),
		events.WithLogger(logger.Named("events")),
	)
	dispatcher.Start()
	defer func() {
		if err := dispatcher.Close(); err != nil {
			lg.Warn("关闭事件分发器失败", slog.String("error", err.Error()))
		}
	}()

	registry, err := claim.NewRegistry(store, clk,
		claim.WithEventSink(dispatcher),
		claim.WithObserver(m),
	)
	if err != nil {
		return err
	}

	authn, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Config{
		Address:           cfg.Server.Address,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MaxClaimLength:    cfg.Registry.MaxClaimLength,
		AllowedOrigins:    cfg.Server.CORS.AllowedOrigins,
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
	}, registry, authn, api.WithMetrics(m))
	if err != nil {
		return err
	}

	lg.Info("poed 启动",
		slog.String("store", cfg.Storage.ClaimStore.Driver),
		slog.String("clock", cfg.Clock.Driver),
		slog.String("auth", string(authn.Mode())),
		slog.Any("sinks", cfg.Events.Sinks),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Server.MetricsAddress, m.Handler()) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("poed 已退出")
	return nil
}
