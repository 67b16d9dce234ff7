package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/throttle"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, svc *scoring.Service, limiter *throttle.Limiter, version string) *Server {
	handler := NewHandler(repo, cache, eventBus, svc, limiter, version)
	router := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader, TraceIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, TraceIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/preview", handler.PreviewRules)
		r.Get("/{id}", handler.GetRule)
		r.Put("/{id}", handler.UpdateRule)
		r.Delete("/{id}", handler.DeleteRule)
		r.Post("/{id}/toggle", handler.ToggleRule)
	})

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", handler.CreateSession)
		r.Get("/{id}", handler.GetSession)
		r.Post("/{id}/messages", handler.PostMessage)
		r.Get("/{id}/messages", handler.ListMessages)
		r.Put("/{id}/assign", handler.AssignSession)
		r.Get("/{id}/score", handler.SessionScore)
	})

	router.Get("/leads", handler.ListLeads)
	router.Get("/leads/top", handler.TopLeads)

	router.Route("/inquiries", func(r chi.Router) {
		r.Post("/", handler.CreateInquiry)
		r.Get("/", handler.ListInquiries)
		r.Put("/{id}/status", handler.UpdateInquiryStatus)
	})

	router.Route("/agents", func(r chi.Router) {
		r.Post("/", handler.CreateAgent)
		r.Get("/", handler.ListAgents)
		r.Get("/{id}", handler.GetAgent)
		r.Get("/{id}/score", handler.AgentScore)
	})

	router.Route("/teams", func(r chi.Router) {
		r.Post("/", handler.CreateTeam)
		r.Get("/{id}", handler.GetTeam)
		r.Get("/{id}/score", handler.TeamScore)
		r.Put("/{id}/members/{agentID}", handler.SetTeamMember)
		r.Delete("/{id}/members/{agentID}", handler.RemoveTeamMember)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
