// Command gateway runs the full payment-intermediation pipeline: the
// ingress HTTP server, the bounded worker pool, and the background health
// monitor, all sharing one Redis-backed ledger and idempotency registry.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"

	"paygate/internal/config"
	"paygate/internal/health"
	"paygate/internal/idempotency"
	"paygate/internal/ingress"
	"paygate/internal/ledger"
	"paygate/internal/model"
	"paygate/internal/processor"
	"paygate/internal/queue"
	"paygate/internal/selector"
	"paygate/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := setupLogger(cfg)

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	redisClient := setupRedisClient(cfg, logger)
	defer func() { _ = redisClient.Close() }()

	httpClient := setupHTTPClient(cfg)

	defaultClient := processor.New(model.ProcessorDefault, cfg.Processors.DefaultURL, httpClient, logger)
	fallbackClient := processor.New(model.ProcessorFallback, cfg.Processors.FallbackURL, httpClient, logger)

	monitor := health.New(defaultClient, fallbackClient, logger)
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	go monitor.Run(monitorCtx)

	ledgerStore := ledger.New(redisClient)
	idempotencyRegistry := idempotency.New(redisClient)

	sel := selector.New(defaultClient, fallbackClient, monitor, idempotencyRegistry, ledgerStore, logger)
	workerPool := queue.New(sel, logger)

	handler := ingress.New(workerPool, ledgerStore, idempotencyRegistry, logger)

	e := echo.New()
	e.HideBanner = true
	if cfg.Telemetry.Enabled {
		e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName))
	}
	e.Use(middleware.Recover())
	handler.Register(e)

	go func() {
		workerPool.Run(monitorCtx)
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway: server error", "error", err)
		}
	}()
	logger.Info("gateway: listening", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("gateway: shutdown signal received, draining")
	shutdown(e, workerPool, stopMonitor, shutdownTracer, logger)
}

func shutdown(e *echo.Echo, workerPool *queue.Pool, stopMonitor context.CancelFunc, shutdownTracer func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs error
	if err := e.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("echo shutdown: %w", err))
	}

	workerPool.Shutdown()
	stopMonitor()

	if err := shutdownTracer(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}

	if errs != nil {
		logger.Error("gateway: shutdown completed with errors", "error", errs)
		return
	}
	logger.Info("gateway: shutdown complete")
}

func setupLogger(cfg *config.AppConfig) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Telemetry.Enabled {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func setupHTTPClient(cfg *config.AppConfig) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   100 * time.Millisecond,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   false,
	}
	var rt http.RoundTripper = transport
	if cfg.Telemetry.Enabled {
		rt = otelhttp.NewTransport(transport)
	}
	return &http.Client{
		Transport: rt,
		Timeout:   30 * time.Second,
	}
}

func setupRedisClient(cfg *config.AppConfig, logger *slog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Endpoint})

	if cfg.Telemetry.Enabled {
		if err := redisotel.InstrumentTracing(client); err != nil {
			logger.Error("redis: instrument tracing", "error", err)
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error("redis: instrument metrics", "error", err)
		}
	}

	return client
}
