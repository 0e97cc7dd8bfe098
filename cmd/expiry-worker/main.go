package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitacall/teleconsult/internal/config"
	"github.com/vitacall/teleconsult/internal/consult"
	"github.com/vitacall/teleconsult/internal/db"
	redisclient "github.com/vitacall/teleconsult/internal/redis"
)

// The worker is the authoritative invitation expiry sweep. Lazy expiry on
// API reads already guarantees correctness; the sweep bounds how long an
// abandoned invitation lingers when nobody reads it.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}
	logger.Info("running expiry worker",
		"env", cfg.Env,
		"interval", cfg.WorkerInterval,
		"invitation_ttl", cfg.InvitationTTL,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	repo := consult.NewPgRepository(pgPool)
	locker := redisclient.NewRedisPairLocker(rdb, cfg.LockTTL)
	// The worker runs without a push hub; clients learn of sweep-driven
	// expiry from their next reconciler poll.
	svc := consult.NewService(repo, locker, nil, logger, cfg)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *consult.Service, logger *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpireStaleInvitations(runCtx); err != nil {
		logger.Error("expiry run error", "error", err)
		return
	}
	logger.Info("expiry run complete", "duration", time.Since(start))
}
