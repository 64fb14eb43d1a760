package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/logger"
)

// Server serves the registry on /metrics.
type Server struct {
	*component.Base
	logger  *slog.Logger
	metrics *Metrics
	addr    string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewServer(m *Metrics, addr string) *Server {
	return &Server{
		Base:    component.NewBase("metrics"),
		logger:  logger.Get(logger.Metrics),
		metrics: m,
		addr:    addr,
	}
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) Start(ctx context.Context) error {
	s.StartContext(ctx)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("Metrics HTTP server listening", "addr", ln.Addr().String())
	s.Go(func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics HTTP server error", "error", err)
		}
	})
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping metrics server")

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}

	s.StopContext()
	return nil
}
