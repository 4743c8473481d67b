// Package common provides the HTTP server, logging and environment helpers
// shared by the gcperfsim commands.
package common

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps an HTTP server with health, readiness and metrics endpoints.
type Server struct {
	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	metrics *Metrics
	name    string
	ready   atomic.Bool
}

// NewServer creates a server listening on addr. Metrics are registered with
// reg and /metrics serves everything reg gathers.
func NewServer(name, addr string, reg *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		name:    name,
		metrics: NewMetrics(reg, name),
		server: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	router.Use(s.metrics.middleware)

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/ready", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	return s
}

// healthHandler returns basic health status.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"component": s.name,
		"timestamp": time.Now().UTC(),
	})
}

// readyHandler reports 503 until the server has started.
func (s *Server) readyHandler(c *gin.Context) {
	code := http.StatusOK
	if !s.ready.Load() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ready":     s.ready.Load(),
		"component": s.name,
		"timestamp": time.Now().UTC(),
	})
}

// Router returns the underlying gin router for adding custom routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics returns the server's metrics instance.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// SetReady flips the readiness endpoint.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	if ready {
		s.metrics.SetReady()
	} else {
		s.metrics.SetNotReady()
	}
}

// Listen binds the server address so that a busy port is reported before
// Start. Start binds on its own when Listen was not called.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.server.Addr)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Start serves HTTP requests until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.SetReady(true)
	slog.Info("Starting HTTP server", "component", s.name, "addr", s.Addr())
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.SetReady(false)
	slog.Info("Shutting down HTTP server", "component", s.name)
	return s.server.Shutdown(ctx)
}

// Serve runs the server in the background until ctx is done, then gives
// outstanding requests up to 30 seconds to complete.
func (s *Server) Serve(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		errc := make(chan error, 1)
		go func() { errc <- s.Start() }()

		select {
		case err := <-errc:
			done <- err
			return
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			done <- err
			return
		}
		done <- <-errc
	}()
	return done
}
