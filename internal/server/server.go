// Package server wires the HTTP router and runs the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ngupuk/kupu/internal/config"
	"github.com/ngupuk/kupu/internal/handlers"
)

// Server is the kupu HTTP server
type Server struct {
	cfg        config.ServerConfig
	router     chi.Router
	httpServer *http.Server
}

// New builds the router around h.
func New(cfg config.ServerConfig, h *handlers.Handler) *Server {
	s := &Server{cfg: cfg}
	s.router = s.routes(h)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes(h *handlers.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		ExposedHeaders:   []string{"Cache-Control", "Pragma", "Expires"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Get("/memory", h.Memory)
	r.Post("/inpaint", h.Inpaint)
	r.Handle("/metrics", promhttp.Handler())

	if dir, ok := s.staticDir(); ok {
		log.Info().Str("dir", dir).Msg("Serving dashboard")
		r.Handle("/*", http.FileServer(http.Dir(dir)))
	} else {
		r.Get("/", h.Index)
	}

	return r
}

// staticDir returns the dashboard directory when production mode is on and
// the directory exists.
func (s *Server) staticDir() (string, bool) {
	if !s.cfg.Production || s.cfg.StaticDir == "" {
		return "", false
	}
	info, err := os.Stat(s.cfg.StaticDir)
	if err != nil || !info.IsDir() {
		log.Warn().Str("dir", s.cfg.StaticDir).Msg("Dashboard build not found, serving API index at /")
		return "", false
	}
	return s.cfg.StaticDir, true
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
		}
		return nil
	})

	return g.Wait()
}
