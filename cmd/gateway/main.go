package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pulse-telemetry/internal/ch"
	"pulse-telemetry/internal/config"
	"pulse-telemetry/internal/gateway"
	"pulse-telemetry/internal/httpx"
	"pulse-telemetry/internal/ingest"
	"pulse-telemetry/internal/logger"
	"pulse-telemetry/internal/outcome"
	"pulse-telemetry/internal/ratelimit"
	"pulse-telemetry/internal/tenant"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenants, cleanup, err := buildTenantStore(ctx, cfg)
	if err != nil {
		log.Fatal("tenant store", zap.Error(err))
	}
	defer cleanup()

	store, err := ch.New(ctx, cfg.ClickHouseDSN)
	if err != nil {
		log.Fatal("clickhouse", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	drops := outcome.NewMemorySink()
	sinks := []outcome.Sink{outcome.NewPromSink(), drops}
	if len(cfg.KafkaBrokers) > 0 {
		audit := outcome.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		defer audit.Close()
		sinks = append(sinks, audit)
		log.Info("outcome audit stream enabled", zap.String("topic", cfg.KafkaAuditTopic))
	}
	recorder := outcome.NewFanout(sinks...)

	counters := buildCounterStore(cfg, log)
	httpLimiter := &ratelimit.Limiter{Max: cfg.HTTPRateMax, Window: cfg.HTTPRateWindow, Store: counters}
	wsLimiter := &ratelimit.Limiter{Max: cfg.WSRateMax, Window: cfg.WSRateWindow, Store: counters}

	service := ingest.NewService(store, tenants, recorder, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpx.NewHTTPMetrics("gateway").Handler())
	router.Use(httpx.CORSMiddleware(cfg.CORSAllowOrigins))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gw := gateway.New(gateway.Options{
		Service:     service,
		Tenants:     tenants,
		HTTPLimiter: httpLimiter,
		WSLimiter:   wsLimiter,
		DropCounter: drops,
		MaxBatch:    cfg.MaxBatch,
		Logger:      log,
	})
	gw.Register(router)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	graceful(server, log)
}

// buildTenantStore picks postgres when a DSN is configured, falling back to
// the yaml tenants file, and wraps either in the filter-config cache.
func buildTenantStore(ctx context.Context, cfg config.Config) (tenant.Store, func(), error) {
	if cfg.TenantsDSN != "" {
		pg, err := tenant.OpenPG(ctx, cfg.TenantsDSN)
		if err != nil {
			return nil, nil, err
		}
		return tenant.WithFilterCache(pg, cfg.FilterCacheTTL), func() { _ = pg.Close() }, nil
	}
	file, err := tenant.LoadFile(cfg.TenantsConfigPath)
	if err != nil {
		return nil, nil, err
	}
	return file, func() {}, nil
}

// buildCounterStore defaults to the process-local store; REDIS_ADDR opts
// into shared windows across gateway instances.
func buildCounterStore(cfg config.Config, log *zap.Logger) ratelimit.CounterStore {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.Info("shared rate-limit windows enabled", zap.String("redis", cfg.RedisAddr))
	return ratelimit.NewRedisStore(client, "rl:")
}

func graceful(server *http.Server, log *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}
