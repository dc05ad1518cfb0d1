package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"archiver/internal/platform/logger"
	"archiver/internal/platform/net/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ServerOptions configures the status server
type ServerOptions struct {
	Addr           string
	AllowedOrigins []string
	SlowRequest    time.Duration
}

// Server is chi behind a stdlib http.Server
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *stdhttp.Server
}

// NewServer builds a router with request ids, panic recovery, CORS and access logs
func NewServer(opt ServerOptions) *Server {
	if opt.Addr == "" {
		opt.Addr = ":8089"
	}
	if len(opt.AllowedOrigins) == 0 {
		opt.AllowedOrigins = []string{"*"}
	}
	m := chi.NewRouter()
	m.Use(chimw.RequestID)
	m.Use(chimw.Recoverer)
	m.Use(cors.Handler(cors.Options{
		AllowedOrigins: opt.AllowedOrigins,
		AllowedMethods: []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	m.Use(middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: opt.SlowRequest}))

	return &Server{
		addr: opt.Addr,
		mux:  m,
		srv: &stdhttp.Server{
			Addr:              opt.Addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Router returns the Router facade over the mux
func (s *Server) Router() Router { return AdaptChi(s.mux) }

// Addr returns the listen address
func (s *Server) Addr() string { return s.addr }

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() stdhttp.Handler { return s.mux }

// Run listens until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shCtx)
	}
}
