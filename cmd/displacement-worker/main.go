package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
	"github.com/clinicdesk/scheduling-engine/internal/rabbit"
	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("displacement-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	publisher, err := rabbit.NewPublisher(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("rabbitmq connection error", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("error closing rabbitmq", zap.Error(err))
		}
	}()
	logger.Info("connected to RabbitMQ")

	repo := scheduling.NewPgRepository(pgPool)
	deliverer := scheduling.NewDeliverer(repo, publisher, logger)

	// Drain whatever accumulated while the worker was down, then poll.
	if n, err := deliverer.RunOnce(rootCtx); err != nil {
		logger.Error("initial delivery run failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("displacement events delivered", zap.Int("count", n))
	}

	deliverer.Run(rootCtx, cfg.WorkerInterval)

	logger.Info("displacement-worker stopped")
}
