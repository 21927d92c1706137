package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Server serves the fraudsim HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	config domain.ServerConfig
}

// NewServer wires the handlers behind the middleware chain. Health routes
// need no tenant; everything else is tenant scoped and body limited.
func NewServer(cfg domain.ServerConfig, deps Dependencies) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = domain.DefaultMaxBodyBytes
	}
	h := NewHandler(deps)

	router := chi.NewRouter()
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware(deps.TracerProvider))
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", h.Health)
	router.Get("/ready", h.Ready)

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(middleware.RequestSize(cfg.MaxBodyBytes))

		r.Post("/score", h.Score)
		r.Post("/tag", h.Tag)
		r.Post("/optimize", h.Optimize)
		r.Post("/audit", h.Audit)
		r.Get("/reports/{id}", h.GetReport)
		r.Get("/evasions/{id}", h.GetEvasion)

		r.Post("/orders", h.IngestOrder)
		r.Get("/orders/{id}", h.GetOrder)

		r.Get("/rules", h.ListRules)
		r.Get("/rules/{id}", h.GetRule)
		r.Post("/rules", h.CreateRule)
		r.Post("/rules/reload", h.ReloadRules)
	})

	return &Server{router: router, config: cfg}
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown waits for in-flight simulations until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the routes for in-process serving.
func (s *Server) Router() http.Handler {
	return s.router
}
