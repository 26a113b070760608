package main

import (
	"context"
	"log"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/realty-mesh/api/handler"
	"github.com/fastygo/realty-mesh/internal/config"
	"github.com/fastygo/realty-mesh/internal/gateway"
	"github.com/fastygo/realty-mesh/internal/metrics"
	"github.com/fastygo/realty-mesh/internal/middleware"
	"github.com/fastygo/realty-mesh/internal/router"
	"github.com/fastygo/realty-mesh/internal/services/lifecycle"
	"github.com/fastygo/realty-mesh/internal/upstream"
	"github.com/fastygo/realty-mesh/pkg/httpcontext"
	"github.com/fastygo/realty-mesh/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Service:  "api-gateway",
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

	endpoints := make([]upstream.Endpoint, 0, len(cfg.Services.Endpoints))
	for _, svc := range cfg.Services.Endpoints {
		endpoints = append(endpoints, upstream.Endpoint{Name: svc.Name, BaseURL: svc.URL, Timeout: svc.Timeout})
	}
	pool, err := upstream.NewPool(endpoints)
	if err != nil {
		zapLogger.Fatal("invalid upstream configuration", zap.Error(err))
	}
	zapLogger.Info("upstreams registered", zap.Strings("services", pool.Names()))

	dispatcher := gateway.NewDispatcher(pool, zapLogger, registry)
	aggregator := gateway.NewAggregator(dispatcher, gateway.DefaultHealthPath, zapLogger)
	mon, err := gateway.NewMonitor(aggregator, cfg.Health.Interval, registry, zapLogger)
	if err != nil {
		zapLogger.Fatal("health monitor setup failed", zap.Error(err))
	}
	manager.Component("health_monitor",
		func(ctx context.Context) error {
			mon.Start()
			return nil
		},
		func(ctx context.Context) error {
			mon.Stop(ctx)
			return nil
		},
	)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.GatewayHandlers{
		Proxy:  apiHandler.NewProxyHandler(dispatcher, ctxAdapter, zapLogger),
		Health: apiHandler.NewHealthHandler(mon, aggregator, ctxAdapter, zapLogger),
	}
	if registry != nil {
		handlers.Metrics = registry.Handler()
	}
	r := router.NewGateway(handlers)

	chain := []middleware.Middleware{
		middleware.CORS(cfg.CORS.Origins, cfg.CORS.Credentials),
		middleware.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.Max).Middleware(),
		middleware.StripIdentity(),
	}
	if cfg.JWT.Enabled() {
		auth := middleware.JWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, zapLogger)
		chain = append(chain, middleware.Unless(auth, "/health", "/metrics", "/api/v1/auth"))
	} else {
		zapLogger.Warn("JWT_SECRET not set, bearer tokens are not verified")
	}

	server := &fasthttp.Server{
		Handler:      middleware.Chain(r.Handler, chain...),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	manager.Component("http_server",
		func(ctx context.Context) error {
			go func() {
				zapLogger.Info("gateway started", zap.String("address", cfg.Address()))
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
