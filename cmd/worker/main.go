package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/task"
	"github.com/maumercado/task-orchestrator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting worker")

	db, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open task store")
	}
	defer db.Close()

	redisClient, err := queue.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build redis client")
	}

	q, err := queue.NewRedisQueue(redisClient, cfg.Queue.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer q.Close()

	lock := queue.NewLock(redisClient, cfg.Worker.LockTTL)
	publisher := events.NewRedisPubSub(redisClient)

	executor := worker.NewExecutor()
	worker.RegisterBuiltinHandlers(executor, nil)

	retry := &task.RetryPolicy{
		BaseSeconds:   cfg.Retry.BaseSeconds,
		MaxSeconds:    cfg.Retry.MaxSeconds,
		JitterSeconds: cfg.Retry.JitterSeconds,
	}

	pool := worker.NewPool(&cfg.Worker, db, q, lock, executor, retry, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker shutdown error")
	}

	log.Info().Msg("worker stopped")
}
