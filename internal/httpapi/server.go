package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/xtremexq/StremioSubMaker-sub002/internal/pipeline"
)

type Server struct {
	orchestrator *pipeline.Orchestrator

	streamInterval time.Duration

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithStreamInterval overrides the SSE poll interval.
func WithStreamInterval(interval time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = interval
	}
}

func NewServer(orchestrator *pipeline.Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator:   orchestrator,
		streamInterval: 1 * time.Second,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/translate", s.handleSubmit)
	s.mux.HandleFunc("/api/translate/", s.handleJob)
	s.mux.HandleFunc("/api/healthz", s.handleHealth)
}
