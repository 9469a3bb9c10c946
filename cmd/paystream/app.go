package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/broadcast"
	"github.com/vanshika/paystream/internal/cache"
	"github.com/vanshika/paystream/internal/channel"
	"github.com/vanshika/paystream/internal/config"
	"github.com/vanshika/paystream/internal/gateway"
	"github.com/vanshika/paystream/internal/generator"
	"github.com/vanshika/paystream/internal/graph"
	"github.com/vanshika/paystream/internal/logging"
	"github.com/vanshika/paystream/internal/processor"
	"github.com/vanshika/paystream/internal/risk"
	"github.com/vanshika/paystream/internal/service"
	"github.com/vanshika/paystream/internal/store"
)

// app holds every wired component of one pipeline instance.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	store     store.Store
	cache     *cache.Cache
	stats     *cache.Stats
	hub       *broadcast.Hub
	processor *processor.Processor
	service   *service.PaymentService
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	sink := logging.NewSink(logger)

	ceiling, err := decimal.NewFromString(cfg.Generator.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_TRANSACTION_AMOUNT %q: %w", cfg.Generator.MaxAmount, err)
	}
	seedBalance, err := decimal.NewFromString(cfg.Store.SeedBalance)
	if err != nil {
		return nil, fmt.Errorf("invalid SEED_BALANCE %q: %w", cfg.Store.SeedBalance, err)
	}
	location, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid RISK_TIMEZONE %q: %w", cfg.Risk.Timezone, err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, store: st}

	if err := store.Seed(ctx, st, cfg.Store.SeedUsers, seedBalance, time.Now().UTC()); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("seed accounts: %w", err)
	}

	a.cache, err = openCache(ctx, cfg, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.stats = cache.NewStats(a.cache, st)
	velocity := cache.NewVelocity(a.cache, st)

	gw, err := gateway.New(cfg.Gateway, logger)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	engine := risk.NewEngine(risk.Config{
		Threshold:      cfg.Risk.Threshold,
		VelocityWindow: cfg.Risk.VelocityWindow,
		Location:       location,
	}, velocity, a.stats, st, sink)

	a.hub = broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, logger.With("component", "broadcast"))

	a.processor, err = processor.New(processor.Dependencies{
		Store:     st,
		Risk:      engine,
		Gateway:   gw,
		Publisher: a.hub,
		Stats:     a.stats,
		Sink:      sink,
		Logger:    logger.With("component", "processor"),
		Ceiling:   ceiling,
	})
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	ch, err := openChannel(cfg, logger, sink)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.service, err = service.New(service.Dependencies{
		Channel:   ch,
		Processor: a.processor,
		Generator: generator.New(generator.Config{NumUsers: cfg.Store.SeedUsers, Seed: cfg.Generator.Seed}),
		Hub:       a.hub,
		Store:     st,
		Stats:     a.stats,
		Logger:    logger.With("component", "service"),
		Ceiling:   ceiling,
	})
	if err != nil {
		_ = ch.Close()
		a.close(ctx)
		return nil, err
	}

	logger.Info("pipeline wired",
		"store", cfg.Store.Driver,
		"channel", cfg.Channel.Driver,
		"gateway", gw.Name(),
		"cache", a.cache.Enabled(),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := store.ConnectPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			return nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pg, nil
	case "neo4j":
		client, err := graph.NewNeo4jClient(ctx, graph.Options{
			URI:            cfg.Graph.URI,
			Database:       cfg.Graph.Database,
			Username:       cfg.Graph.Username,
			Password:       cfg.Graph.Password,
			MaxConnections: cfg.Graph.MaxConnections,
		})
		if err != nil {
			return nil, err
		}
		g := store.NewGraph(client)
		if err := g.EnsureSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return g, nil
	default:
		return store.NewMemory(), nil
	}
}

// openCache connects Redis when configured. Without a URL the cache is
// disabled and every read goes to the store.
func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (*cache.Cache, error) {
	cacheLogger := logger.With("component", "cache")
	if cfg.Cache.RedisURL == "" {
		return cache.New(nil, cacheLogger), nil
	}
	backend, err := cache.NewRedis(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.New(backend, cacheLogger), nil
}

func openChannel(cfg config.Config, logger *slog.Logger, sink logging.Sink) (channel.Channel, error) {
	channelLogger := logger.With("component", "channel")
	if cfg.Channel.Driver == "kafka" {
		return channel.NewKafka(channel.KafkaConfig{
			Brokers: cfg.Channel.Brokers,
			Topic:   cfg.Channel.Topic,
			GroupID: cfg.Channel.GroupID,
		}, channel.DefaultRetryPolicy(), channelLogger, sink)
	}
	return channel.NewMemory(cfg.Channel.Buffer, channel.DefaultRetryPolicy(), channelLogger, sink), nil
}

// close releases everything built so far. It is safe on a partially built app.
func (a *app) close(ctx context.Context) {
	var errs []error
	if a.service != nil {
		errs = append(errs, a.service.Shutdown())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing pipeline failed", "error", err)
	}
}
