package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dheovanwa/serenity/internal/appointment"
	"github.com/dheovanwa/serenity/internal/config"
	"github.com/dheovanwa/serenity/internal/db"
	"github.com/dheovanwa/serenity/internal/events"
	"github.com/dheovanwa/serenity/internal/logger"
	redisclient "github.com/dheovanwa/serenity/internal/redis"
)

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

	log.Info("reconciler starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.ReconcileSpec),
		zap.Duration("timeout", cfg.ReconcileTimeout))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgPool, err := db.ConnectPostgres(rootCtx, cfg)
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

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

	publishers := []events.Publisher{events.NewBusPublisher(redisclient.NewBus(rdb))}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer func() { _ = amqpPub.Close() }()
		publishers = append(publishers, amqpPub)
	}

	// Booking locks use the short TTL; the leader lock must outlive one pass.
	bookingLocker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	leaderLocker := redisclient.NewRedisLocker(rdb, cfg.ReconcileTimeout)

	svc := appointment.NewService(appointment.NewPgRepository(pgPool), bookingLocker, events.Fanout(publishers...), log, cfg)

	run := func() { runOnce(rootCtx, log, leaderLocker, svc, cfg.ReconcileTimeout) }

	// Run once at startup
	run()

	c := cron.New(cron.WithLocation(cfg.Timezone), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.ReconcileSpec, run); err != nil {
		log.Fatal("invalid RECONCILE_SPEC", zap.String("spec", cfg.ReconcileSpec), zap.Error(err))
	}
	c.Start()

	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping reconciler")

	<-c.Stop().Done()
	log.Info("reconciler stopped")
}

// runOnce performs one pass if this instance wins the leader lock.
func runOnce(ctx context.Context, log *zap.Logger, locker redisclient.Locker, svc *appointment.Service, timeout time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := locker.WithLock(runCtx, redisclient.ReconcilerLockKey, func(ctx context.Context) error {
		_, err := svc.Reconcile(ctx)
		return err
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug("reconcile pass skipped, another instance holds the lock")
	case err != nil:
		log.Error("reconcile pass error", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	default:
		log.Info("reconcile pass complete", zap.Duration("elapsed", time.Since(start)))
	}
}
