package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maumercado/task-orchestrator/internal/api"
	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/logger"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/submission"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting api server")

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

	publisher := events.NewRedisPubSub(redisClient)
	sub := submission.New(db, q, cfg.Queue.DefaultMaxAttempts).WithPublisher(publisher)

	server := api.NewServer(cfg, db, q, sub, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down api server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("api server stopped")
}
