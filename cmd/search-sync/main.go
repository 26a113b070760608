package main

import (
	"context"
	"fmt"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/realty-mesh/api/handler"
	"github.com/fastygo/realty-mesh/internal/config"
	"github.com/fastygo/realty-mesh/internal/eventbus"
	elasticInfra "github.com/fastygo/realty-mesh/internal/infrastructure/elastic"
	redisInfra "github.com/fastygo/realty-mesh/internal/infrastructure/redis"
	"github.com/fastygo/realty-mesh/internal/metrics"
	"github.com/fastygo/realty-mesh/internal/middleware"
	"github.com/fastygo/realty-mesh/internal/router"
	"github.com/fastygo/realty-mesh/internal/search"
	"github.com/fastygo/realty-mesh/internal/services/lifecycle"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
	"github.com/fastygo/realty-mesh/pkg/logger"
	"github.com/fastygo/realty-mesh/repository"
	"github.com/fastygo/realty-mesh/repository/boltdb"
	"github.com/fastygo/realty-mesh/repository/memory"
	redisRepo "github.com/fastygo/realty-mesh/repository/redis"
)

const ledgerPrefix = "search:ledger:"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Service:  "search-service",
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	var registry *metrics.Registry
	if cfg.HTTP.EnableMetrics {
		registry = metrics.New()
	}

	esClient, err := elasticInfra.NewClient(appCtx, cfg.Elastic)
	if err != nil {
		zapLogger.Fatal("elasticsearch connection failed", zap.Error(err))
	}
	store := search.NewESStore(esClient, cfg.Elastic.Index, cfg.Elastic.Refresh, zapLogger)
	if err := store.EnsureIndex(appCtx); err != nil {
		zapLogger.Fatal("search index setup failed", zap.Error(err))
	}

	ledger, err := openLedger(appCtx, cfg)
	if err != nil {
		zapLogger.Fatal("event ledger setup failed", zap.String("backend", cfg.Ledger.Backend), zap.Error(err))
	}
	manager.Register("ledger", func(ctx context.Context) error {
		return ledger.Close()
	})

	synchronizer := search.NewSynchronizer(store, ledger, zapLogger, registry)
	eventRouter := eventbus.NewRouter(zapLogger, registry)
	synchronizer.Register(eventRouter)

	conn := eventbus.NewConnection(eventbus.ConnectionConfig{
		URL:            cfg.NATS.URL,
		Name:           cfg.NATS.ClientName + "-search",
		Stream:         cfg.NATS.Stream,
		Subjects:       cfg.NATS.Subjects,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
		DrainTimeout:   cfg.NATS.DrainTimeout,
	}, zapLogger)
	manager.Component("broker",
		func(ctx context.Context) error {
			if err := conn.Connect(ctx); err != nil {
				return err
			}
			return conn.EnsureStream(ctx)
		},
		conn.Close,
	)

	var consumer *eventbus.Consumer
	manager.Component("consumer",
		func(ctx context.Context) error {
			js, err := conn.JetStream()
			if err != nil {
				return err
			}
			consumer = eventbus.NewConsumer(js, eventRouter, eventbus.ConsumerConfig{
				Stream:        cfg.NATS.Stream,
				Durable:       cfg.NATS.Durable,
				FilterSubject: cfg.NATS.FilterSubject,
				AckWait:       cfg.NATS.AckWait,
				MaxDeliver:    cfg.NATS.MaxDeliver,
				Workers:       cfg.NATS.Workers,
			}, zapLogger)
			return consumer.Start(ctx)
		},
		func(ctx context.Context) error {
			return consumer.Stop(ctx)
		},
	)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.SearchHandlers{
		Search: apiHandler.NewSearchHandler(synchronizer, ctxAdapter, zapLogger),
		Health: apiHandler.NewDependencyHealthHandler(map[string]apiHandler.Check{
			"elasticsearch": synchronizer.Ready,
			"nats": func(context.Context) error {
				if !conn.IsConnected() {
					return eventbus.ErrNotConnected
				}
				return nil
			},
		}, ctxAdapter, zapLogger),
	}
	if registry != nil {
		handlers.Metrics = registry.Handler()
	}
	r := router.NewSearch(handlers)

	server := &fasthttp.Server{
		Handler:      middleware.Chain(r.Handler, middleware.CORS(cfg.CORS.Origins, cfg.CORS.Credentials)),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	manager.Component("http_server",
		func(ctx context.Context) error {
			go func() {
				zapLogger.Info("search service started", zap.String("address", cfg.Address()))
				if err := server.ListenAndServe(cfg.Address()); err != nil {
					zapLogger.Error("server crashed", zap.Error(err))
					cancel()
				}
			}()
			return nil
		},
		func(ctx context.Context) error {
			return server.ShutdownWithContext(ctx)
		},
	)

	if err := manager.Start(appCtx); err != nil {
		zapLogger.Fatal("startup failed", zap.Error(err))
	}

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

func openLedger(ctx context.Context, cfg *config.Config) (repository.EventLedger, error) {
	switch cfg.Ledger.Backend {
	case "redis":
		client, err := redisInfra.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return redisRepo.NewLedgerRepository(client, ledgerPrefix, cfg.Ledger.TTL), nil
	case "bolt", "boltdb":
		return boltdb.OpenLedger(cfg.Ledger.Path)
	case "memory":
		return memory.NewLedgerRepository(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}
