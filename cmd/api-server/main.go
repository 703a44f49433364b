package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/api"
	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/auth"
	"github.com/dheovanwa/serenity/internal/chat"
	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/db"
	"github.com/dheovanwa/serenity/internal/events"
	"github.com/dheovanwa/serenity/internal/logger"
	"github.com/dheovanwa/serenity/internal/rating"
	redisclient "github.com/dheovanwa/serenity/internal/redis"
	"github.com/dheovanwa/serenity/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("timezone", cfg.Timezone.String()),
		zap.Duration("payment_window", cfg.PaymentWindow))

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	if cfg.PaymentKey == "" {
		log.Fatal("PAYMENT_SERVER_KEY is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("serenity-api", cfg, log)

	// Connect Postgres and apply the schema
	pgPool, err := db.Open(rootCtx, cfg)
	if err != nil {
		log.Fatal("postgres startup error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres",
		zap.Int32("max_conns", cfg.PostgresMaxConns),
		zap.Int32("min_conns", cfg.PostgresMinConns))

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	bus := redisclient.NewBus(rdb)
	publishers := []events.Publisher{events.NewBusPublisher(bus)}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer func() { _ = amqpPub.Close() }()
		publishers = append(publishers, amqpPub)
		log.Info("connected to RabbitMQ", zap.String("queue", events.QueueName))
	}
	publisher := events.Fanout(publishers...)

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), locker, publisher, log, cfg)
	chats := chat.NewService(chat.NewPgRepository(pgPool), appointments, bus, log, cfg.Timezone)
	ratings := rating.NewService(rating.NewPgRepository(pgPool), appointments, publisher, log)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Chats:        chats,
		Ratings:      ratings,
		Verifier:     auth.NewVerifier(cfg.JWTSecret),
		Payments:     auth.NewNotificationSigner(cfg.PaymentKey),
		Health: api.NewHealthHandler(cfg.Env, version,
			api.PostgresCheck(pgPool),
			api.RedisCheck(rdb),
		),
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerSec: cfg.RateLimitPerSec,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           otelhttp.NewHandler(router, "serenity-api"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracer shutdown error", zap.Error(err))
	}

	log.Info("api-server stopped")
}
