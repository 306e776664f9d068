package main

import (
	"context"

	"tokenkeeper/internal/config"
	"tokenkeeper/internal/database"
	"tokenkeeper/internal/modules/retention"
	"tokenkeeper/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// One-shot retention sweep for cron jobs outside the API process.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := config.NewLogger(cfg.Log)

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}

	sweeper := retention.NewSweeper(repository.NewRefreshTokenRepository(db), log,
		retention.WithGrace(cfg.Sweep.Grace.Std()),
		retention.WithBatchSize(cfg.Sweep.BatchSize),
	)

	var locker retention.Locker = retention.NoopLocker{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		locker = retention.NewRedisLocker(rdb, log, retention.DefaultLockKey, cfg.Sweep.LockTTL.Std())
	}

	runner, err := retention.NewRunner(log, sweeper, locker, cfg.Sweep.Schedule)
	if err != nil {
		log.WithError(err).Fatal("runner init failed")
	}

	deleted, skipped, err := runner.RunOnce(context.Background())
	if err != nil {
		log.WithError(err).Fatal("cleanup refresh_tokens failed")
	}
	if skipped {
		log.Info("auth cleanup skipped: another sweep holds the lock")
		return
	}
	log.WithField("refresh_tokens", deleted).Info("auth cleanup completed")
}
