package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clinicdesk/scheduling-engine/internal/api"
	"github.com/clinicdesk/scheduling-engine/internal/config"
	"github.com/clinicdesk/scheduling-engine/internal/db"
	"github.com/clinicdesk/scheduling-engine/internal/directory"
	redisclient "github.com/clinicdesk/scheduling-engine/internal/redis"
	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
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

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	metrics := scheduling.NewMetrics(prometheus.DefaultRegisterer)

	booking := scheduling.NewService(repo, locker, logger, metrics)
	availability := scheduling.NewAvailabilityEngine(repo, logger)

	var searcher directory.Searcher
	if cfg.DiscoveryURL != "" {
		searcher = directory.NewHTTPSearcher(cfg.DiscoveryURL)
	}
	dir := directory.NewService(repo, searcher, logger)
	billing := directory.NewBillingClient(cfg.BillingURL)

	router := api.NewRouter(api.RouterConfig{
		Booking:       booking,
		Availability:  availability,
		Directory:     dir,
		Billing:       billing,
		Patients:      repo,
		PgPool:        pgPool,
		Redis:         rdb,
		Logger:        logger,
		Env:           cfg.Env,
		Version:       version,
		SessionSecret: cfg.SessionSecret,
		RateLimit:     cfg.RateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api-server stopped")
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
