package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting scheduler")

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

	sched := queue.NewScheduler(db, q, cfg.Scheduler.Interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down scheduler")
	sched.Stop()
	log.Info().Msg("scheduler stopped")
}
