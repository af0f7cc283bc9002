package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/shohag/chatrelay/internal/config"
	"github.com/shohag/chatrelay/internal/relay"
)

type Server struct {
	cfg    *config.Config
	svc    *relay.Service
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg *config.Config, svc *relay.Service, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: log.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	webhooks := NewWebhookHandler(s.svc, s.log)
	messages := NewMessageHandler(s.svc, s.cfg.Relay, s.log)
	health := NewStatsHandler()

	r.Get("/health", health.Health)

	r.Post("/add-webhook", webhooks.Add)
	r.Get("/webhooks", webhooks.List)
	r.Get("/webhook/{id}", webhooks.Get)
	r.Delete("/webhook/{id}", webhooks.Delete)
	r.Get("/webhook/{id}/attempts", webhooks.Attempts)

	r.Post("/send-message", messages.Send)
	r.Get("/messages/{channelId}", messages.Fetch)

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
