package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vanshika/paystream/internal/config"
	"github.com/vanshika/paystream/internal/logging"
	"github.com/vanshika/paystream/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the consumer, producer and HTTP API",
		RunE:  runServe,
	}
	cmd.Flags().Bool("produce", false, "start the synthetic producer immediately")
	cmd.Flags().Duration("interval", 0, "producer interval (overrides GENERATOR_INTERVAL)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if produce, _ := cmd.Flags().GetBool("produce"); produce {
		cfg.Generator.AutoStart = true
	}
	if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
		cfg.Generator.Interval = interval
	}

	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	apiHandlers := server.NewAPIHandlers(logger.With("component", "api"), a.service, server.HandlerConfig{
		ProducerContext:  ctx,
		ProducerInterval: cfg.Generator.Interval,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
	})
	router := server.NewRouter(logger, server.RouterDependencies{
		Health: map[string]server.HealthService{
			"store": server.StoreHealthService{Store: a.store},
			"cache": server.CacheHealthService{Cache: a.cache},
		},
		API:              apiHandlers,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})
	srv := server.New(logger, cfg.HTTP, router)

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- a.service.Run(ctx)
	}()

	if cfg.Generator.AutoStart {
		if err := a.service.StartProducing(ctx, cfg.Generator.Interval); err != nil {
			logger.Error("failed to start producer", "error", err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	consumerDone := false
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	case err := <-consumerErr:
		consumerDone = true
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped unexpectedly", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	a.service.StopProducing()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if !consumerDone {
		select {
		case <-consumerErr:
		case <-time.After(cfg.HTTP.ShutdownTimeout):
			logger.Warn("consumer did not stop before shutdown timeout")
		}
	}

	stats := a.service.GetStats()
	logger.Info("pipeline stopped", "processed", stats.ProcessedCount, "throughput_per_second", stats.ThroughputPerSecond)
	return nil
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(csv, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
