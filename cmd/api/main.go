package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenkeeper/internal/config"
	"tokenkeeper/internal/database"
	"tokenkeeper/internal/modules/retention"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Weak or missing signing keys land here too: never start with them.
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log := config.NewLogger(cfg.Log)
	log.WithFields(logrus.Fields{
		"env":  cfg.AppEnv,
		"addr": cfg.HTTPAddr,
	}).Info("Starting tokenkeeper")

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("Database connection failed")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("Database migration failed")
	}

	if cfg.IsProdLike() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.Metrics.Token == "" {
			log.Warn("METRICS_TOKEN is empty: /metrics is unauthenticated")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	a, err := newApp(cfg, db, registry, log)
	if err != nil {
		log.WithError(err).Fatal("App init failed")
	}

	var runner *retention.Runner
	if cfg.Sweep.Enabled {
		sweeper := retention.NewSweeper(a.tokenDB, log,
			retention.WithGrace(cfg.Sweep.Grace.Std()),
			retention.WithBatchSize(cfg.Sweep.BatchSize),
			retention.WithMetrics(a.metrics),
		)

		var locker retention.Locker = retention.NoopLocker{}
		if cfg.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()
			locker = retention.NewRedisLocker(rdb, log, retention.DefaultLockKey, cfg.Sweep.LockTTL.Std())
		}

		runner, err = retention.NewRunner(log, sweeper, locker, cfg.Sweep.Schedule)
		if err != nil {
			log.WithError(err).Fatal("Retention runner init failed")
		}
		runner.Start()
	} else {
		log.Info("Retention sweep disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()
	log.Infof("Listening on %s", cfg.HTTPAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	if runner != nil {
		runner.Stop()
	}
}
