// Package api wires the HTTP surface: the client-facing task lifecycle
// endpoints under /v1, the admin console under /admin, the WebSocket
// event stream, and Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maumercado/task-orchestrator/internal/api/handlers"
	apimiddleware "github.com/maumercado/task-orchestrator/internal/api/middleware"
	"github.com/maumercado/task-orchestrator/internal/api/websocket"
	"github.com/maumercado/task-orchestrator/internal/config"
	"github.com/maumercado/task-orchestrator/internal/events"
	"github.com/maumercado/task-orchestrator/internal/queue"
	"github.com/maumercado/task-orchestrator/internal/store"
	"github.com/maumercado/task-orchestrator/internal/submission"
)

// Server owns the chi router and the handlers behind it.
type Server struct {
	router        *chi.Mux
	config        *config.Config
	store         *store.Store
	queue         *queue.RedisQueue
	taskHandler   *handlers.TaskHandler
	adminHandler  *handlers.AdminHandler
	healthHandler *handlers.HealthHandler
	wsHub         *websocket.Hub
	wsHandler     *websocket.Handler
	publisher     *events.RedisPubSub
}

// NewServer assembles the HTTP server over the given store, queue, and
// submission service.
func NewServer(cfg *config.Config, s *store.Store, q *queue.RedisQueue, sub *submission.Service, publisher *events.RedisPubSub) *Server {
	wsHub := websocket.NewHub(publisher)

	srv := &Server{
		router:       chi.NewRouter(),
		config:       cfg,
		store:        s,
		queue:        q,
		taskHandler:  handlers.NewTaskHandler(s, sub).WithPublisher(publisher),
		adminHandler: handlers.NewAdminHandler(s, q),
		healthHandler: handlers.NewHealthHandler(q.Client(), func(r *http.Request) error {
			return s.DB().PingContext(r.Context())
		}),
		wsHub:     wsHub,
		wsHandler: websocket.NewHandler(wsHub),
		publisher: publisher,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(apimiddleware.RequestLogger())
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Heartbeat("/ping"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(apimiddleware.APIKeyAuth(s.config.Auth.APIKey))

		r.Get("/health", s.healthHandler.Check)
		if s.config.Metrics.Enabled {
			r.Handle("/metrics", promhttp.Handler())
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Use(chimiddleware.AllowContentType("application/json"))
			r.Use(apimiddleware.MaxBytes(s.config.Server.MaxRequestBytes))
			if s.config.Server.RateLimitRPS > 0 {
				r.Use(apimiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))
			}

			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Post("/{taskID}/cancel", s.taskHandler.Cancel)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(apimiddleware.AdminAuth(s.config.Auth.JWTSecret))

		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)
		r.Post("/workers/{workerID}/pause", s.adminHandler.PauseWorker)
		r.Post("/workers/{workerID}/resume", s.adminHandler.ResumeWorker)

		r.Get("/queue", s.adminHandler.GetQueue)
		r.Delete("/queue", s.adminHandler.PurgeQueue)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)
}

// Start launches the WebSocket hub's broadcast loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop shuts the WebSocket hub down.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router exposes the underlying chi mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
