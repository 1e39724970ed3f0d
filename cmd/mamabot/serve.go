package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mamabot/internal/api"
	"mamabot/internal/bus"
	"mamabot/internal/channel"
	"mamabot/internal/config"
	"mamabot/internal/dedup"
	"mamabot/internal/engine"
	"mamabot/internal/facility"
	"mamabot/internal/history"
	"mamabot/internal/metrics"
	"mamabot/internal/provider"
	"mamabot/internal/reply"
	"mamabot/internal/store"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (webhook server, engine, admin API)",
		Long:  "Starts the WhatsApp webhook listener, the conversation engine, and the HTTP admin surface. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(cfg.General.BusBuffer, logger)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return err
	}
	users, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	defer users.Close()

	// Facilities share the user store's connection; SQLite allows one writer.
	facilities, err := facility.NewSQLiteStoreOnDB(users.DB(), logger)
	if err != nil {
		return fmt.Errorf("facility store: %w", err)
	}

	gate, err := dedup.NewGate(ctx, dedup.GateConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Dedup.KeyPrefix,
		TTL:      time.Duration(cfg.Dedup.TTLHours) * time.Hour,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	turns, err := history.New(ctx, history.StoreConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		MaxTurns: cfg.History.MaxTurns,
		TTL:      time.Duration(cfg.History.TTLHours) * time.Hour,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	provFactory := provider.NewFactory(cfg, logger)
	prov, err := provFactory.Chain()
	if err != nil {
		return fmt.Errorf("provider chain: %w", err)
	}
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("provider unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("provider healthy", "provider", prov.Name())
	}

	generator := reply.NewGenerator(prov, turns, reply.DefaultMaxLength, logger)
	directory := facility.NewDirectory(facilities, cfg.Facilities.TopK, logger)

	eng := engine.New(engine.Config{
		Users:         users,
		Gate:          gate,
		Bus:           messageBus,
		Directory:     directory,
		Generator:     generator,
		History:       turns,
		Logger:        logger,
		Concurrency:   cfg.General.MaxConcurrentMessages,
		Timeout:       time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second,
		DedupFailMode: cfg.Dedup.FailMode,
		DefaultCounty: cfg.Facilities.DefaultCounty,
		MinWeeks:      cfg.Registration.MinGestationalWeeks,
		MaxWeeks:      cfg.Registration.MaxGestationalWeeks,
	})
	go eng.Run(ctx)

	whatsapp := channel.NewWhatsApp(cfg.WhatsApp, logger)
	if err := whatsapp.Start(ctx, messageBus); err != nil {
		return fmt.Errorf("whatsapp channel: %w", err)
	}

	server := api.NewServer(api.ServerConfig{
		Config:        cfg,
		Facilities:    facilities,
		Conversations: users,
		Webhook:       whatsapp.Handler(),
		Collector:     metrics.Collector,
		Logger:        logger,
	})

	logger.Info("mamabot started", "version", version)

	serveErr := server.Start(ctx)

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		whatsapp.Stop()
		messageBus.Close()
		gate.Close()
		turns.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		if serveErr == nil {
			serveErr = fmt.Errorf("shutdown timed out")
		}
	}

	return serveErr
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
