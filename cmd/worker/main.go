package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/pressplay/checkout-engine/internal/config"
	"github.com/pressplay/checkout-engine/internal/ledger"
	"github.com/pressplay/checkout-engine/internal/lock"
	"github.com/pressplay/checkout-engine/internal/obs"
	"github.com/pressplay/checkout-engine/internal/store"
)

// taskLedgerSweep reclaims reservations whose TTL elapsed without a commit.
const taskLedgerSweep = "ledger:sweep"

const sweepLockKey = "lock:ledger-sweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "checkout"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	ledgerSvc := &ledger.Service{
		Store:          &store.LedgerRepo{DB: pool, DefaultPerUserLimit: cfg.DefaultPerUserLimit},
		ReservationTTL: cfg.ReservationTTL,
		SweepBatch:     cfg.SweepBatch,
		Logger:         logger,
	}
	locker := lock.Locker{R: redisClient}

	asynqOpt := asynq.RedisClientOpt{
		Addr:      redisOpts.Addr,
		Username:  redisOpts.Username,
		Password:  redisOpts.Password,
		DB:        redisOpts.DB,
		TLSConfig: redisOpts.TLSConfig,
	}

	scheduler := asynq.NewScheduler(asynqOpt, nil)
	spec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := scheduler.Register(spec, asynq.NewTask(taskLedgerSweep, nil)); err != nil {
		logger.Fatal().Err(err).Msg("register sweep schedule")
	}

	srv := asynq.NewServer(asynqOpt, asynq.Config{Concurrency: 1})
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskLedgerSweep, func(taskCtx context.Context, _ *asynq.Task) error {
		// The lock keeps multiple worker replicas from double-releasing;
		// losing it just skips this tick.
		acquired, err := locker.TryLock(taskCtx, sweepLockKey, cfg.LockTTL, func(lockCtx context.Context) error {
			_, sweepErr := ledgerSvc.Sweep(lockCtx)
			return sweepErr
		})
		if err != nil {
			return err
		}
		if !acquired {
			logger.Debug().Msg("sweep lock held elsewhere, skipping")
		}
		return nil
	})

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}

	logger.Info().Str("interval", cfg.SweepInterval.String()).Msg("worker started")
	<-ctx.Done()

	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
