// Package httpapi exposes the deployment registry over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetshift/deployd/internal/application"
)

// Server is the remote API gateway.
type Server struct {
	registry   *application.Registry
	workspaces *application.WorkspaceService
	gatherer   prometheus.Gatherer
	logger     *slog.Logger

	router *gin.Engine
	server *http.Server
}

// Config holds the dependencies of a Server. Gatherer may be nil, in
// which case /metrics is not served.
type Config struct {
	Addr       string
	Registry   *application.Registry
	Workspaces *application.WorkspaceService
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// NewServer builds the router and registers every route.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		registry:   cfg.Registry,
		workspaces: cfg.Workspaces,
		gatherer:   cfg.Gatherer,
		logger:     logger,
		router:     router,
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	ws := s.router.Group("/workspaces")
	ws.POST("", s.handleCreateWorkspace)
	ws.GET("", s.handleListWorkspaces)
	ws.GET("/:id", s.handleGetWorkspace)

	d := s.router.Group("/deployments")
	d.POST("", s.handleCreateDeployment)
	d.GET("", s.handleListDeployments)
	d.GET("/:id", s.handleGetDeployment)
	d.PUT("/:id/scale", s.handleScaleDeployment)
	d.DELETE("/:id", s.handleDeleteDeployment)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("gateway listening", "addr", l.Addr().String())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
